// Package filelock provides exclusive, cross-process advisory locks scoped to
// a single document path.
//
// Portal helpers are short-lived processes that race on the same JSON files.
// A lock taken here serializes every cooperating process (and every goroutine
// in one process, since each acquisition opens its own descriptor) that
// touches the same document.
//
// # Lock Files
//
// The lock is held on a sidecar file next to the document: locking
// "/data/rbac.json" uses "/data/rbac.json.lock". The sidecar is created on
// acquisition and removed on release while the lock is still held. A waiter
// that opened the old inode re-validates the path after it wins the lock and
// retries when the sidecar was unlinked underneath it.
//
// # Bounded Waiting
//
// Acquisition polls a non-blocking lock until [Manager] timeout elapses or the
// context is cancelled, then fails with [ErrTimeout]. A crashed holder never
// wedges a batch job: the OS drops its lock when the process exits.
//
// # Basic Usage
//
//	m := filelock.NewManager(filelock.WithTimeout(5 * time.Second))
//
//	err := m.With(ctx, "/data/rbac.json", func(l *filelock.Lock) error {
//	    // read, modify and commit the document
//	    return nil
//	})
//
// [Lock.Release] is idempotent and safe to call from cleanup paths.
package filelock
