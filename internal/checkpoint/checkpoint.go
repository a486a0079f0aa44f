// Package checkpoint is the durable event and state log behind resumable
// runs. Every stream event and graph snapshot lands here before anything
// is sent to a client, so a replay can reconstruct the run byte for byte.
package checkpoint

import "context"

// Store persists namespaced values and ordered event logs per thread.
//
// Namespaces in use:
//
//	"messages"    ordered stream events, one entry per emitted event
//	"graph"       latest serialized workflow state per thread
//	"interrupts"  pending interrupt payloads awaiting resume
type Store interface {
	// Put writes a single value under (ns, thread, key), replacing any
	// previous value.
	Put(ctx context.Context, ns, thread, key string, value []byte) error

	// Get reads the value at (ns, thread, key). The bool reports whether
	// the key existed.
	Get(ctx context.Context, ns, thread, key string) ([]byte, bool, error)

	// Append adds value to the ordered log for (ns, thread) and returns
	// its 1-based sequence number.
	Append(ctx context.Context, ns, thread string, value []byte) (int64, error)

	// NextCursor atomically increments and returns the cursor for
	// (ns, thread). Cursors start at 1.
	NextCursor(ctx context.Context, ns, thread string) (int64, error)

	// ReadLog returns log entries for (ns, thread) in append order,
	// 0-based inclusive from, exclusive to. to < 0 means "until the end".
	ReadLog(ctx context.Context, ns, thread string, from, to int64) ([][]byte, error)

	// Delete removes every value and log entry held for thread.
	Delete(ctx context.Context, thread string) error

	Close() error
}
