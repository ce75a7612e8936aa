// Package watch reports changes to documents committed by other processes.
package watch

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/portaldocs/internal/docstore"
	"github.com/Iron-Ham/portaldocs/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for a burst of filesystem
// events to settle before reading the documents they touched.
const DefaultDebounce = 50 * time.Millisecond

// Event describes one observed change to a document.
type Event struct {
	Document string           `json:"document" yaml:"document"`
	Path     string           `json:"path" yaml:"path"`
	Time     time.Time        `json:"time" yaml:"time"`
	Before   any              `json:"before,omitempty" yaml:"before,omitempty"`
	After    any              `json:"after,omitempty" yaml:"after,omitempty"`
	Deltas   []docstore.Delta `json:"deltas,omitempty" yaml:"deltas,omitempty"`
	Removed  bool             `json:"removed,omitempty" yaml:"removed,omitempty"`
	// Err is set when the document could not be read or decoded; Before is
	// kept as the last good value.
	Err error `json:"-" yaml:"-"`
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithDocuments limits the watcher to the named documents.
func WithDocuments(names ...string) Option {
	return func(w *Watcher) {
		for _, n := range names {
			if norm, err := docstore.NormalizeName(n); err == nil {
				w.only[norm] = true
			}
		}
	}
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher watches a document directory and calls its handler with the
// structural difference each time a document's committed content changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	handler  func(Event)
	debounce time.Duration
	only     map[string]bool
	logger   *logging.Logger

	// last decoded value per document
	known map[string]any

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a watcher for the documents in dir. handler is called from a
// single goroutine, in the order changes are processed.
func New(dir string, handler func(Event), opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watch: nil handler")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &os.PathError{Op: "watch", Path: dir, Err: errors.New("not a directory")}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		dir:      dir,
		handler:  handler,
		debounce: DefaultDebounce,
		only:     make(map[string]bool),
		logger:   logging.NopLogger(),
		known:    make(map[string]any),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// Start records the current content of the watched documents and begins
// watching. Calling Start more than once has no effect.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	w.prime()
	go w.watchLoop()
}

// Stop stops watching and waits for the event loop to exit. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()

		w.mu.Lock()
		started := w.started
		w.mu.Unlock()
		if started {
			<-w.done
		}
	})
}

// prime loads the documents present when watching starts so the first
// change has something to compare against.
func (w *Watcher) prime() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("initial scan failed", "dir", w.dir, "error", err.Error())
		return
	}
	for _, e := range entries {
		name, ok := w.documentName(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(w.dir, e.Name()))
		if err != nil {
			continue
		}
		if v, err := docstore.Decode(data); err == nil {
			w.known[name] = v
		}
	}
}

// documentName maps a file name in the watched directory to a document
// name, rejecting temp files, lock files and unwatched documents.
func (w *Watcher) documentName(file string) (string, bool) {
	if strings.HasPrefix(file, ".") || !strings.HasSuffix(file, docstore.DocumentExt) {
		return "", false
	}
	name, err := docstore.NormalizeName(file)
	if err != nil {
		return "", false
	}
	if len(w.only) > 0 && !w.only[name] {
		return "", false
	}
	return name, true
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	// Commits arrive as a create, a chmod and a rename in quick succession.
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C
	defer debounceTimer.Stop()

	pending := make(map[string]struct{})

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			name, ok := w.documentName(filepath.Base(event.Name))
			if !ok {
				continue
			}
			pending[name] = struct{}{}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			pending = make(map[string]struct{})
			sort.Strings(names)
			for _, name := range names {
				w.handleDocument(name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err.Error())
		}
	}
}

// handleDocument reads one document and reports it if its value changed.
func (w *Watcher) handleDocument(name string) {
	path := filepath.Join(w.dir, name+docstore.DocumentExt)
	before, hadBefore := w.known[name]
	ev := Event{Document: name, Path: path, Time: time.Now(), Before: before}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if !hadBefore {
			return
		}
		delete(w.known, name)
		ev.Removed = true
		w.emit(ev)
		return
	case err != nil:
		ev.Err = err
		w.emit(ev)
		return
	}

	after, err := docstore.Decode(data)
	if err != nil {
		ev.Err = err
		w.emit(ev)
		return
	}
	if hadBefore && reflect.DeepEqual(before, after) {
		return
	}

	w.known[name] = after
	ev.After = after
	bm, _ := before.(map[string]any)
	if am, ok := after.(map[string]any); ok && (bm != nil || !hadBefore) {
		ev.Deltas = docstore.Compare(bm, am)
	}
	w.emit(ev)
}

func (w *Watcher) emit(ev Event) {
	if ev.Err != nil {
		w.logger.Debug("document unreadable", "document", ev.Document, "error", ev.Err.Error())
	}
	w.handler(ev)
}
