package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Iron-Ham/portaldocs/internal/logging"
)

// LockSuffix is appended to a document path to name its sidecar lock file.
const LockSuffix = ".lock"

// Default acquisition budget.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 25 * time.Millisecond
)

// ErrTimeout is returned when the lock could not be obtained within the
// manager's timeout.
var ErrTimeout = errors.New("timed out waiting for lock")

// Manager hands out exclusive locks on document paths.
// A Manager holds no per-lock state and is safe for concurrent use.
type Manager struct {
	timeout      time.Duration
	pollInterval time.Duration
	perm         os.FileMode
	logger       *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout bounds how long Acquire waits. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithPollInterval sets the delay between non-blocking lock attempts.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithPerm sets the permission bits used when creating sidecar lock files.
func WithPerm(perm os.FileMode) Option {
	return func(m *Manager) {
		m.perm = perm
	}
}

// WithLogger attaches a logger. A nil logger is ignored.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager with the default timeout and poll interval.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		perm:         0644,
		logger:       logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Timeout returns the configured acquisition timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Lock is an acquired exclusive lock on one document path.
type Lock struct {
	Target     string    // Document the lock protects
	Path       string    // Sidecar lock file
	AcquiredAt time.Time // When the lock was obtained

	mu     sync.Mutex
	file   *os.File
	logger *logging.Logger
}

// LockPath returns the sidecar lock file path for a document path.
func LockPath(target string) string {
	return target + LockSuffix
}

// Acquire blocks until the exclusive lock on target is obtained, the
// manager's timeout elapses, or ctx is done.
func (m *Manager) Acquire(ctx context.Context, target string) (*Lock, error) {
	lockPath := LockPath(target)
	start := time.Now()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	deadline := timer.C

	attempts := 0
	for {
		attempts++
		f, acquired, err := m.tryAcquire(lockPath)
		if err != nil {
			return nil, err
		}
		if acquired {
			m.logger.Debug("lock acquired",
				"path", target,
				"attempts", attempts,
				"wait_ms", time.Since(start).Milliseconds(),
			)
			return &Lock{
				Target:     target,
				Path:       lockPath,
				AcquiredAt: time.Now(),
				file:       f,
				logger:     m.logger,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s: %w", lockPath, ctx.Err())
		case <-deadline:
			m.logger.Warn("lock wait timed out",
				"path", target,
				"attempts", attempts,
				"timeout", m.timeout.String(),
			)
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, lockPath, m.timeout)
		case <-time.After(m.pollInterval):
		}
	}
}

// tryAcquire makes one non-blocking attempt. On success the returned file
// holds the lock and is still linked at lockPath.
func (m *Manager) tryAcquire(lockPath string) (*os.File, bool, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, m.perm)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file: %w", err)
	}

	ok, err := tryLock(f)
	if err != nil {
		_ = f.Close()
		return nil, false, fmt.Errorf("lock %s: %w", lockPath, err)
	}
	if !ok {
		_ = f.Close()
		return nil, false, nil
	}

	// The previous holder unlinks the sidecar before unlocking, so the inode
	// we locked may no longer be the one at lockPath.
	linked, err := stillLinked(f, lockPath)
	if err != nil || !linked {
		_ = unlock(f)
		_ = f.Close()
		if err != nil {
			return nil, false, fmt.Errorf("verify lock file: %w", err)
		}
		return nil, false, nil
	}
	return f, true, nil
}

// stillLinked reports whether path still names the file f refers to.
func stillLinked(f *os.File, path string) (bool, error) {
	held, err := f.Stat()
	if err != nil {
		return false, err
	}
	current, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return os.SameFile(held, current), nil
}

// Held reports whether the lock has not been released yet.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// Release removes the sidecar, drops the lock and closes the descriptor.
// It is idempotent and never fails; problems are logged because the OS
// releases the lock when the descriptor closes regardless.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}

	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		l.logger.Debug("lock file not removed", "path", l.Path, "error", err.Error())
	}
	if err := unlock(l.file); err != nil {
		l.logger.Debug("unlock failed", "path", l.Path, "error", err.Error())
	}
	if err := l.file.Close(); err != nil {
		l.logger.Debug("lock file close failed", "path", l.Path, "error", err.Error())
	}
	l.file = nil

	l.logger.Debug("lock released",
		"path", l.Target,
		"held_ms", time.Since(l.AcquiredAt).Milliseconds(),
	)
}

// With acquires the lock on target, runs fn while it is held and releases it
// on every exit path, including a panic in fn.
func (m *Manager) With(ctx context.Context, target string, fn func(*Lock) error) error {
	l, err := m.Acquire(ctx, target)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn(l)
}
