package vop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type staticDirectory struct {
	record BankRecord
}

func (d *staticDirectory) Lookup(_ context.Context, country, bankCode string) (BankRecord, error) {
	return d.record, nil
}

type staticBAV struct {
	result NameMatch
}

func (b *staticBAV) VerifyName(_ context.Context, _, _, _ string) (NameMatch, error) {
	return b.result, nil
}

func scoreOnce(t *testing.T, directory BankDirectory, bav BAVClient, selected bool) Score {
	t.Helper()
	engine := New(directory, bav)
	score, err := engine.Score(context.Background(), Input{
		IBAN:      "DE89370400440532013000",
		FirstName: "Hans",
		LastName:  "Meier",
	}, selected)
	require.NoError(t, err)
	return score
}

func TestScoreFullMarks(t *testing.T) {
	directory := &staticDirectory{record: BankRecord{Found: true, BankName: "Commerzbank", BIC: "COBADEFFXXX", SDDCapable: true}}
	score := scoreOnce(t, directory, &staticBAV{result: NameMatchYes}, true)

	require.Equal(t, 100, score.Points)
	require.Equal(t, ResultVerified, score.Result)
	require.True(t, score.BAVVerified)
	require.Equal(t, NameMatchYes, score.NameMatch)
}

func TestScoreIsDeterministic(t *testing.T) {
	directory := &staticDirectory{record: BankRecord{Found: true, BankName: "Commerzbank", SDDCapable: true}}
	first := scoreOnce(t, directory, &staticBAV{result: NameMatchPartial}, true)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, scoreOnce(t, directory, &staticBAV{result: NameMatchPartial}, true))
	}
}

func TestScoreWithoutBankOrBAV(t *testing.T) {
	score := scoreOnce(t, &staticDirectory{}, nil, false)

	// IBAN valid (20) + SEPA country (15) only.
	require.Equal(t, 35, score.Points)
	require.Equal(t, ResultMismatch, score.Result)
	require.False(t, score.BAVVerified)
	require.Equal(t, NameMatchUnavailable, score.NameMatch)
}

func TestScoreBAVNoIsDefinitive(t *testing.T) {
	directory := &staticDirectory{record: BankRecord{Found: true, SDDCapable: true}}
	score := scoreOnce(t, directory, &staticBAV{result: NameMatchNo}, true)

	// A definitive "no" completes verification without awarding points.
	require.True(t, score.BAVVerified)
	require.Equal(t, NameMatchNo, score.NameMatch)
	require.Equal(t, 85, score.Points)
}

func TestScoreBounds(t *testing.T) {
	engine := New(nil, nil)
	score, err := engine.Score(context.Background(), Input{IBAN: "garbage"}, false)
	require.NoError(t, err)
	require.GreaterOrEqual(t, score.Points, 0)
	require.LessOrEqual(t, score.Points, 100)
	require.Equal(t, ResultRejected, score.Result)
}

func TestBucketsAreMonotonic(t *testing.T) {
	order := map[Result]int{
		ResultRejected:       0,
		ResultMismatch:       1,
		ResultInconclusive:   2,
		ResultLikelyVerified: 3,
		ResultVerified:       4,
	}
	previous := 0
	for points := 0; points <= 100; points++ {
		rank := order[bucket(points)]
		require.GreaterOrEqual(t, rank, previous, points)
		previous = rank
	}
	require.Equal(t, ResultVerified, bucket(80))
	require.Equal(t, ResultLikelyVerified, bucket(79))
	require.Equal(t, ResultLikelyVerified, bucket(60))
	require.Equal(t, ResultInconclusive, bucket(59))
	require.Equal(t, ResultInconclusive, bucket(40))
	require.Equal(t, ResultMismatch, bucket(39))
	require.Equal(t, ResultMismatch, bucket(20))
	require.Equal(t, ResultRejected, bucket(19))
}

func TestBankCode(t *testing.T) {
	require.Equal(t, "37040044", BankCode("DE89370400440532013000"))
	require.Equal(t, "ABNA", BankCode("NL91ABNA0417164300"))
	require.Equal(t, "20041", BankCode("FR1420041010050500013M02606"))
}

type staticQuota struct {
	used int
}

func (q *staticQuota) Used(_ context.Context, _ string) (int, error) {
	return q.used, nil
}

func TestSampleCount(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC)

	// ceil(200 * 10%) = 20, quota untouched.
	n, err := SampleCount(ctx, &staticQuota{}, now, 200, 10, 5000)
	require.NoError(t, err)
	require.Equal(t, 20, n)

	// Uploads beyond 1000 rows cap at 100.
	n, err = SampleCount(ctx, &staticQuota{}, now, 5000, 10, 5000)
	require.NoError(t, err)
	require.Equal(t, 100, n)

	// The daily quota bounds the sample.
	n, err = SampleCount(ctx, &staticQuota{used: 4990}, now, 200, 10, 5000)
	require.NoError(t, err)
	require.Equal(t, 10, n)

	// Exhausted quota selects nothing.
	n, err = SampleCount(ctx, &staticQuota{used: 5000}, now, 200, 10, 5000)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	// Disabled knobs select nothing.
	n, err = SampleCount(ctx, &staticQuota{}, now, 0, 10, 5000)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	n, err = SampleCount(ctx, &staticQuota{}, now, 200, 0, 5000)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestSampleCountRespectsQuotaAcrossUploads(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC)
	quota := &staticQuota{}
	dailyLimit := 150

	total := 0
	for i := 0; i < 30; i++ {
		n, err := SampleCount(ctx, quota, now, 100, 10, dailyLimit)
		require.NoError(t, err)
		total += n
		quota.used += n
	}
	require.Equal(t, dailyLimit, total)
}

func TestBAVDelay(t *testing.T) {
	require.Equal(t, time.Second, BAVDelay(true))
	require.Equal(t, 500*time.Millisecond, BAVDelay(false))
}
