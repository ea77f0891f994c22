// Package lock implements a lease-and-token distributed lock over Redis.
//
// Acquisition is a single atomic SETNX with a TTL; release is a Lua
// compare-and-delete so only the current holder can free the key. Work that
// outruns its lease may be picked up by another holder, which the job queue
// tolerates through idempotent handlers.
package lock
