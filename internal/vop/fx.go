package vop

import (
	"go.uber.org/fx"
)

func newEngine(banks BankDirectory, bav BAVClient) *Engine {
	return New(banks, bav)
}

func bindBankDirectory(d *CachedBankDirectory) BankDirectory { return d }

func bindProgress(p *RedisProgress) Progress { return p }

// Module wires the VOP scorer, the tiered bank directory, the BAV
// client, and the per-upload phase runner.
var Module = fx.Module("vop",
	fx.Provide(
		NewRemoteDirectory,
		NewCachedBankDirectory,
		bindBankDirectory,
		NewBAVClient,
		NewRedisQuota,
		NewRedisProgress,
		bindProgress,
		newEngine,
		NewRunner,
	),
)
