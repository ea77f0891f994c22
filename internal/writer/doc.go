// Package writer serializes all mutating access to the embedded SQLite
// database behind a single processing loop.
//
// SQLite permits exactly one writer at a time; concurrent writers surface as
// transient lock-contention errors. The Writer owns the only mutating handle
// and executes submitted statements strictly in submission order, delivering
// each outcome back to the originating caller over a per-request channel.
// One bad statement never poisons the pipeline, and shutdown drains the
// backlog before releasing the loop.
package writer
