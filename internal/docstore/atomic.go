package docstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// tempInfix marks pending-write files: ".<base>.tmp-<random>".
const tempInfix = ".tmp-"

// Committer replaces files atomically: write a temporary file in the target's
// directory, sync it, then rename it over the target. Rename is the only
// mutation of the visible name, so a reader sees either the old or the new
// content.
type Committer struct {
	fs   afero.Fs
	perm os.FileMode

	// beforeRename runs after the temporary file is durable and before it is
	// renamed. Tests use it to inject failures at that point.
	beforeRename func(tmpPath string) error
}

// NewCommitter returns a Committer that leaves committed files with perm.
func NewCommitter(fs afero.Fs, perm os.FileMode) *Committer {
	return &Committer{fs: fs, perm: perm}
}

// Commit atomically replaces path with data. On failure the temporary file is
// removed and path is untouched.
func (c *Committer) Commit(path string, data []byte) (err error) {
	dir := filepath.Dir(path)

	tmp, err := afero.TempFile(c.fs, dir, tempPattern(path))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = c.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := c.fs.Chmod(tmpPath, c.perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if c.beforeRename != nil {
		if err := c.beforeRename(tmpPath); err != nil {
			return err
		}
	}

	if err := c.fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	committed = true

	c.syncDir(dir)
	return nil
}

// syncDir makes the rename durable where the platform allows syncing a
// directory. Failure leaves the commit visible but possibly not yet durable.
func (c *Committer) syncDir(dir string) {
	d, err := c.fs.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Sweep removes pending-write files left behind for path by a writer that
// died before renaming. Only call it while holding the document lock.
func (c *Committer) Sweep(path string) (int, error) {
	prefix := "." + filepath.Base(path) + tempInfix
	matches, err := afero.Glob(c.fs, filepath.Join(filepath.Dir(path), prefix+"*"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if !strings.HasPrefix(filepath.Base(m), prefix) {
			continue
		}
		if err := c.fs.Remove(m); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func tempPattern(path string) string {
	return "." + filepath.Base(path) + tempInfix + "*"
}
