// Package postgres implements store.Store using pgx/v5 with raw SQL.
//
// Every compare-and-swap runs in a SERIALIZABLE transaction that is retried
// with jittered backoff on serialization failures (40001) and deadlocks
// (40P01). Lock expiry is judged by the database server's
// clock_timestamp(), so runners with skewed clocks still agree on whether
// a lease is live. Migrations are embedded SQL files applied in filename
// order.
package postgres
