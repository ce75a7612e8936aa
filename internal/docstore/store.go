package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Iron-Ham/portaldocs/internal/config"
	"github.com/Iron-Ham/portaldocs/internal/filelock"
	"github.com/Iron-Ham/portaldocs/internal/logging"
	"github.com/spf13/afero"
)

// Options configures a Store.
type Options struct {
	BaseDir   string
	BackupDir string // relative to BaseDir unless absolute; default "backups"
	FilePerm  os.FileMode
	DirPerm   os.FileMode

	LockTimeout  time.Duration
	PollInterval time.Duration

	WriteAttempts int
	RetryDelay    time.Duration
	Backup        bool
	KeepBackups   int // 0 keeps every backup
}

// DefaultOptions returns the options used when no configuration is given.
func DefaultOptions(baseDir string) Options {
	return Options{
		BaseDir:       baseDir,
		BackupDir:     "backups",
		FilePerm:      0o644,
		DirPerm:       0o775,
		LockTimeout:   filelock.DefaultTimeout,
		PollInterval:  filelock.DefaultPollInterval,
		WriteAttempts: 3,
		RetryDelay:    time.Second,
		Backup:        true,
	}
}

// Option customizes a Store beyond its Options.
type Option func(*Store)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFs replaces the filesystem used for document content and backups.
// Directory setup and locking always use the OS, so fs must expose the same
// paths; it exists to inject failures such as afero.NewReadOnlyFs.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) {
		if fs != nil {
			s.fs = fs
		}
	}
}

// Store is a directory of JSON documents. Every operation locks the document
// it touches for its whole duration; the Store itself holds no per-document
// state between calls and is safe for concurrent use.
type Store struct {
	resolver  *Resolver
	locks     *filelock.Manager
	fs        afero.Fs
	committer *Committer
	backups   *Backups
	logger    *logging.Logger

	attempts   int
	retryDelay time.Duration
	backup     bool
	keep       int
}

// Document is the result of reading a document.
type Document struct {
	Name  string `json:"name" yaml:"name"`
	Path  string `json:"path" yaml:"path"`
	Value any    `json:"value" yaml:"value"`
	// Created is set when the document did not exist and was seeded.
	Created bool `json:"created" yaml:"created"`
	// Recovered is set when the content came from a backup.
	Recovered bool `json:"recovered" yaml:"recovered"`
	// RestoredFrom names the backup used when Recovered is set.
	RestoredFrom string `json:"restored_from,omitempty" yaml:"restored_from,omitempty"`

	data []byte
}

// Change describes the outcome of a read-modify-write.
type Change struct {
	Before any `json:"before" yaml:"before"`
	After  any `json:"after" yaml:"after"`
	// Diff is set when both Before and After are objects.
	Diff    map[string]any `json:"diff,omitempty" yaml:"diff,omitempty"`
	Changed bool           `json:"changed" yaml:"changed"`
	Created bool           `json:"created" yaml:"created"`
	Backup  *Backup        `json:"backup,omitempty" yaml:"backup,omitempty"`
}

// New opens a Store rooted at opts.BaseDir, creating the base and backup
// directories when needed.
func New(opts Options, options ...Option) (*Store, error) {
	if opts.WriteAttempts < 1 {
		opts.WriteAttempts = 1
	}
	if opts.FilePerm == 0 {
		opts.FilePerm = 0o644
	}
	if opts.DirPerm == 0 {
		opts.DirPerm = 0o775
	}

	resolver, err := NewResolver(opts.BaseDir, opts.BackupDir, opts.DirPerm)
	if err != nil {
		return nil, err
	}

	s := &Store{
		resolver:   resolver,
		fs:         afero.NewOsFs(),
		logger:     logging.NopLogger(),
		attempts:   opts.WriteAttempts,
		retryDelay: opts.RetryDelay,
		backup:     opts.Backup,
		keep:       opts.KeepBackups,
	}
	for _, o := range options {
		o(s)
	}

	s.locks = filelock.NewManager(
		filelock.WithTimeout(opts.LockTimeout),
		filelock.WithPollInterval(opts.PollInterval),
		filelock.WithPerm(opts.FilePerm),
		filelock.WithLogger(s.logger),
	)
	s.committer = NewCommitter(s.fs, opts.FilePerm)
	s.backups = NewBackups(s.fs, resolver.BackupDir(), opts.FilePerm)
	return s, nil
}

// Open builds a Store from configuration.
func Open(cfg *config.Config, options ...Option) (*Store, error) {
	base, err := cfg.Store.ResolveBaseDir()
	if err != nil {
		return nil, &ConfigurationError{Path: cfg.Store.BaseDir, Err: err}
	}
	filePerm, err := cfg.Store.FilePerm()
	if err != nil {
		return nil, &ConfigurationError{Path: base, Err: err}
	}
	dirPerm, err := cfg.Store.DirPerm()
	if err != nil {
		return nil, &ConfigurationError{Path: base, Err: err}
	}

	return New(Options{
		BaseDir:       base,
		BackupDir:     cfg.Store.ResolveBackupDir(base),
		FilePerm:      filePerm,
		DirPerm:       dirPerm,
		LockTimeout:   cfg.Lock.Timeout,
		PollInterval:  cfg.Lock.PollInterval,
		WriteAttempts: cfg.Write.Attempts,
		RetryDelay:    cfg.Write.RetryDelay,
		Backup:        cfg.Write.Backup,
		KeepBackups:   cfg.Backup.Keep,
	}, options...)
}

// BaseDir returns the directory holding the documents.
func (s *Store) BaseDir() string {
	return s.resolver.BaseDir()
}

// BackupDir returns the backup area.
func (s *Store) BackupDir() string {
	return s.resolver.BackupDir()
}

// Path returns the file path of the named document.
func (s *Store) Path(name string) (string, error) {
	path, _, err := s.resolver.Path(name)
	return path, err
}

// List returns the names of the documents in the base directory.
func (s *Store) List() ([]string, error) {
	return s.resolver.Names()
}

// session is one locked operation on one document.
type session struct {
	store  *Store
	name   string
	path   string
	logger *logging.Logger
}

// withDocument runs fn while holding the lock of the named document.
func (s *Store) withDocument(ctx context.Context, name string, fn func(*session) error) error {
	path, n, err := s.resolver.Path(name)
	if err != nil {
		return err
	}
	logger := s.logger.WithDocument(n)

	lock, err := s.locks.Acquire(ctx, path)
	if err != nil {
		return &LockError{Document: n, Path: filelock.LockPath(path), Err: err}
	}
	defer lock.Release()

	if removed, err := s.committer.Sweep(path); err != nil {
		logger.Warn("stale temp files not removed", "error", err.Error())
	} else if removed > 0 {
		logger.Info("removed stale temp files", "count", removed)
	}
	if removed, err := s.backups.Sweep(n); err != nil {
		logger.Warn("stale backup temp files not removed", "error", err.Error())
	} else if removed > 0 {
		logger.Info("removed stale backup temp files", "count", removed)
	}

	return fn(&session{store: s, name: n, path: path, logger: logger})
}

// load reads and decodes the document. A missing or empty document is
// restored from its latest valid backup when one exists, otherwise seed is
// used and committed only when persist is set. A corrupt document is
// restored from backup once; if that fails a DecodeError is returned.
func (ss *session) load(ctx context.Context, seed any, persist bool) (*Document, error) {
	doc := &Document{Name: ss.name, Path: ss.path}

	data, err := afero.ReadFile(ss.store.fs, ss.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", ss.path, err)
	}

	if err == nil && !blank(data) {
		v, decodeErr := Decode(data)
		if decodeErr == nil {
			doc.Value, doc.data = v, data
			return doc, nil
		}

		ss.logger.Warn("document is corrupt, restoring from backup", "path", ss.path, "error", decodeErr.Error())
		if rerr := ss.recover(ctx, doc); rerr != nil {
			return nil, &DecodeError{Document: ss.name, Path: ss.path, Err: decodeErr, Recovery: rerr}
		}
		return doc, nil
	}

	exists, err := ss.store.backups.Exists(ss.name)
	if err != nil {
		return nil, err
	}
	if exists {
		ss.logger.Warn("document is missing, restoring from backup", "path", ss.path)
		rerr := ss.recover(ctx, doc)
		if rerr == nil {
			return doc, nil
		}
		if !errors.Is(rerr, ErrNoBackup) {
			return nil, rerr
		}
		ss.logger.Warn("no usable backup, seeding document")
	}

	if seed == nil {
		seed = map[string]any{}
	}
	v, seedData, err := Normalize(seed)
	if err != nil {
		return nil, fmt.Errorf("encode default for %s: %w", ss.name, err)
	}
	doc.Value, doc.data, doc.Created = v, seedData, true

	if persist {
		if err := ss.commit(ctx, seedData); err != nil {
			return nil, err
		}
		ss.logger.Info("document created", "path", ss.path)
	}
	return doc, nil
}

// recover replaces the document with its newest decodable backup, keeping a
// snapshot of the content it replaces.
func (ss *session) recover(ctx context.Context, doc *Document) error {
	data, bk, err := ss.store.backups.RestoreLatest(ss.name, validDocument)
	if err != nil {
		return err
	}
	v, err := Decode(data)
	if err != nil {
		return err
	}
	if err := ss.preserve(); err != nil {
		return err
	}
	if err := ss.commit(ctx, data); err != nil {
		return err
	}
	ss.logger.Info("document restored", "backup", bk.Name)

	doc.Value, doc.data = v, data
	doc.Recovered, doc.RestoredFrom = true, bk.Name
	return nil
}

// preserve snapshots the content a restore is about to replace. Missing and
// empty documents have nothing to keep.
func (ss *session) preserve() error {
	if !ss.store.backup {
		return nil
	}
	info, err := ss.store.fs.Stat(ss.path)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return nil
	}
	bk, err := ss.store.backups.Snapshot(ss.name, ss.path)
	if err != nil {
		return &WriteError{Document: ss.name, Path: ss.path, Err: err}
	}
	if bk != nil {
		ss.logger.Info("replaced content backed up", "backup", bk.Name)
	}
	return nil
}

func validDocument(data []byte) error {
	if blank(data) {
		return errors.New("backup is empty")
	}
	_, err := Decode(data)
	return err
}

// save snapshots the current document when backup is set, commits data and
// applies retention. It returns the snapshot taken, if any.
func (ss *session) save(ctx context.Context, data []byte, backup bool) (*Backup, error) {
	var bk *Backup
	if backup {
		var err error
		bk, err = ss.store.backups.Snapshot(ss.name, ss.path)
		if err != nil {
			return nil, &WriteError{Document: ss.name, Path: ss.path, Err: err}
		}
		if bk != nil {
			ss.logger.Debug("backup created", "backup", bk.Name)
		}
	}

	if err := ss.commit(ctx, data); err != nil {
		return bk, err
	}

	if keep := ss.store.keep; keep > 0 && bk != nil {
		removed, err := ss.store.backups.Prune(ss.name, keep)
		if err != nil {
			ss.logger.Warn("backup pruning failed", "error", err.Error())
		} else if len(removed) > 0 {
			ss.logger.Debug("pruned backups", "count", len(removed))
		}
	}
	return bk, nil
}

// commit writes data to the document, retrying failed commits with a fixed
// delay.
func (ss *session) commit(ctx context.Context, data []byte) error {
	attempts := ss.store.attempts
	for attempt := 1; ; attempt++ {
		err := ss.store.committer.Commit(ss.path, data)
		if err == nil {
			return nil
		}
		if attempt >= attempts {
			ss.logger.Error("commit failed", "attempts", attempt, "error", err.Error())
			return &WriteError{Document: ss.name, Path: ss.path, Attempts: attempt, Err: err}
		}

		ss.logger.Warn("commit failed, retrying",
			"attempt", attempt,
			"retry_in", ss.store.retryDelay.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return &WriteError{Document: ss.name, Path: ss.path, Attempts: attempt, Err: errors.Join(err, ctx.Err())}
		case <-time.After(ss.store.retryDelay):
		}
	}
}

// Read returns the named document. A document that does not exist is created
// with def ({} when def is nil) and reported as Created.
func (s *Store) Read(ctx context.Context, name string, def any) (*Document, error) {
	var doc *Document
	err := s.withDocument(ctx, name, func(ss *session) error {
		var err error
		doc, err = ss.load(ctx, def, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ReadInto reads the named document like Read and unmarshals it into out.
// It reports whether the document was created.
func (s *Store) ReadInto(ctx context.Context, name string, def, out any) (bool, error) {
	doc, err := s.Read(ctx, name, def)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(doc.data, out); err != nil {
		return doc.Created, fmt.Errorf("unmarshal %s: %w", doc.Name, err)
	}
	return doc.Created, nil
}

// WriteOption customizes a single Write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	backup *bool
}

// WithoutBackup skips the snapshot normally taken before overwriting.
func WithoutBackup() WriteOption {
	return func(o *writeOptions) {
		b := false
		o.backup = &b
	}
}

// Write replaces the named document with v, snapshotting the current content
// first unless backups are disabled.
func (s *Store) Write(ctx context.Context, name string, v any, opts ...WriteOption) error {
	wo := writeOptions{}
	for _, o := range opts {
		o(&wo)
	}
	backup := s.backup
	if wo.backup != nil {
		backup = *wo.backup
	}

	data, err := Encode(v)
	if err != nil {
		n, _ := NormalizeName(name)
		return &WriteError{Document: n, Err: fmt.Errorf("encode: %w", err)}
	}

	return s.withDocument(ctx, name, func(ss *session) error {
		_, err := ss.save(ctx, data, backup)
		if err == nil {
			ss.logger.Debug("document written", "bytes", len(data))
		}
		return err
	})
}

// Modify runs fn on the current value of the named document and commits what
// it returns, all under one lock. A missing document starts as {}. Nothing is
// written when the encoded result is unchanged.
func (s *Store) Modify(ctx context.Context, name string, fn func(v any) (any, error)) (*Change, error) {
	var change *Change
	err := s.withDocument(ctx, name, func(ss *session) error {
		doc, err := ss.load(ctx, nil, false)
		if err != nil {
			return err
		}

		// fn gets its own copy so Before survives in-place edits.
		working, err := Decode(doc.data)
		if err != nil {
			return err
		}
		result, err := fn(working)
		if err != nil {
			return err
		}
		after, data, err := Normalize(result)
		if err != nil {
			return &WriteError{Document: ss.name, Path: ss.path, Err: fmt.Errorf("encode: %w", err)}
		}

		change = &Change{Before: doc.Value, After: after}
		if bm, ok := doc.Value.(map[string]any); ok {
			if am, ok := after.(map[string]any); ok {
				change.Diff = Diff(bm, am)
			}
		}
		if bytes.Equal(data, doc.data) {
			return nil
		}

		bk, err := ss.save(ctx, data, s.backup)
		if err != nil {
			return err
		}
		change.Changed, change.Created, change.Backup = true, doc.Created, bk
		ss.logger.Debug("document modified", "bytes", len(data), "created", doc.Created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// Update sets key to value in the named document.
func (s *Store) Update(ctx context.Context, name, key string, value any) (*Change, error) {
	return s.Modify(ctx, name, func(v any) (any, error) {
		obj, err := asObject(name, v)
		if err != nil {
			return nil, err
		}
		obj[key] = value
		return obj, nil
	})
}

// Append adds item to the array held by key, creating the array when key is
// absent.
func (s *Store) Append(ctx context.Context, name, key string, item any) (*Change, error) {
	return s.Modify(ctx, name, func(v any) (any, error) {
		obj, err := asObject(name, v)
		if err != nil {
			return nil, err
		}
		switch cur := obj[key].(type) {
		case nil:
			if _, present := obj[key]; present {
				return nil, fmt.Errorf("%w: %s.%s is null", ErrNotArray, name, key)
			}
			obj[key] = []any{item}
		case []any:
			obj[key] = append(cur, item)
		default:
			return nil, fmt.Errorf("%w: %s.%s holds %T", ErrNotArray, name, key, cur)
		}
		return obj, nil
	})
}

// Delete removes key from the named document. Deleting an absent key does not
// write.
func (s *Store) Delete(ctx context.Context, name, key string) (*Change, error) {
	return s.Modify(ctx, name, func(v any) (any, error) {
		obj, err := asObject(name, v)
		if err != nil {
			return nil, err
		}
		delete(obj, key)
		return obj, nil
	})
}

func asObject(name string, v any) (map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotObject, name)
	}
	return obj, nil
}

// Restore replaces the named document with a backup: the one named by
// backupName, or the newest decodable one when backupName is empty. The
// current content is backed up first unless backups are disabled.
// ErrNoBackup is returned when there is nothing to restore.
func (s *Store) Restore(ctx context.Context, name, backupName string) (*Document, error) {
	var doc *Document
	err := s.withDocument(ctx, name, func(ss *session) error {
		var (
			data []byte
			bk   *Backup
			err  error
		)
		if backupName == "" {
			data, bk, err = s.backups.RestoreLatest(ss.name, validDocument)
		} else {
			data, bk, err = s.backups.Read(ss.name, backupName)
			if err == nil {
				err = validDocument(data)
				if err != nil {
					err = &DecodeError{Document: ss.name, Path: bk.Path, Err: err}
				}
			}
		}
		if err != nil {
			return err
		}

		v, err := Decode(data)
		if err != nil {
			return &DecodeError{Document: ss.name, Path: bk.Path, Err: err}
		}
		if err := ss.preserve(); err != nil {
			return err
		}
		if err := ss.commit(ctx, data); err != nil {
			return err
		}
		ss.logger.Info("document restored", "backup", bk.Name)

		doc = &Document{
			Name:         ss.name,
			Path:         ss.path,
			Value:        v,
			Recovered:    true,
			RestoredFrom: bk.Name,
			data:         data,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Backups lists the backups of the named document, oldest first.
func (s *Store) Backups(name string) ([]Backup, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	return s.backups.List(n)
}

// Prune deletes all but the newest keep backups of the named document.
func (s *Store) Prune(ctx context.Context, name string, keep int) ([]Backup, error) {
	var removed []Backup
	err := s.withDocument(ctx, name, func(ss *session) error {
		var err error
		removed, err = s.backups.Prune(ss.name, keep)
		if len(removed) > 0 {
			ss.logger.Info("pruned backups", "count", len(removed), "keep", keep)
		}
		return err
	})
	return removed, err
}
