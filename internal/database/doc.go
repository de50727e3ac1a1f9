// Package database provides GORM-backed connection-pool management:
// pool sizing, a background health-check loop, and transaction helpers
// including exponential-backoff retry for transient errors (deadlocks,
// serialization failures, stale connections).
//
// repository.Open wraps this package's PoolManager around the
// *gorm.DB it opens from gwconfig.DatabaseConfig, and repository's
// provider-write paths (Create/Update) run through
// PoolManager.WithTransactionRetry so a concurrent write that loses a
// database-level race gets a bounded retry instead of surfacing to the
// caller immediately.
package database
