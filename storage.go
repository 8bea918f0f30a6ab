package pers

// Engine is an ordered key-value backend (Bolt, in-memory, etc.). Keys are
// compared as raw bytes; iteration must follow ascending byte order.
type Engine interface {
	// Get returns a copy of the value stored under key, or nil if the key
	// doesn't exist.
	Get(key []byte) ([]byte, error)

	// Put stores a key-value pair, replacing any existing value.
	Put(key, value []byte) error

	// Delete removes a key and reports whether it existed.
	Delete(key []byte) (bool, error)

	// Has reports whether key exists, without copying its value.
	Has(key []byte) (bool, error)

	// Cursor returns a new forward cursor.
	Cursor() Cursor

	// Sync flushes pending writes to durable storage.
	Sync() error

	// Close syncs and closes the engine.
	Close() error
}

// Cursor iterates over an engine in ascending key order. Returned slices are
// owned by the caller. A nil key means the cursor is exhausted (or failed,
// see Err).
//
// Cursors don't pin a snapshot: mutations made between calls may or may not
// be observed, but a cursor never returns a key lower than or equal to one it
// has already returned.
type Cursor interface {
	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// Next moves to the key following the current one.
	Next() (key, value []byte)

	// Err returns the first error encountered by the cursor.
	Err() error
}
