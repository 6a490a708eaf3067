// Package storage persists what the bot must remember across restarts: the
// log of chat commands and the window of recently spoken lines used to skip
// repeats. Spoken lines are stored as hashes only.
//
// Drivers:
//   - "file": a directory with commands.jsonl (rotated) and spoken.log
//   - "sqlite": one database (modernc.org/sqlite, no cgo) with versioned migrations
package storage
