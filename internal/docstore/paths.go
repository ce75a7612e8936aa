package docstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// DocumentExt is the extension of every document file.
const DocumentExt = ".json"

const maxNameLen = 200

// namePattern restricts names to a single path element.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// NormalizeName validates a logical document name and strips an optional
// ".json" suffix, so "rbac" and "rbac.json" name the same document.
func NormalizeName(name string) (string, error) {
	n := strings.TrimSuffix(strings.TrimSpace(name), DocumentExt)
	if n == "" || len(n) > maxNameLen || !namePattern.MatchString(n) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.HasSuffix(n, ".lock") || strings.HasSuffix(n, ".bck") {
		return "", fmt.Errorf("%w: %q uses a reserved suffix", ErrInvalidName, name)
	}
	return n, nil
}

// Resolver maps document names to paths inside a base directory.
type Resolver struct {
	baseDir   string
	backupDir string
}

// NewResolver ensures baseDir and backupDir exist and that baseDir is
// writable. Directories it creates get dirPerm regardless of umask; existing
// directories are left as they are.
func NewResolver(baseDir, backupDir string, dirPerm os.FileMode) (*Resolver, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, &ConfigurationError{Path: baseDir, Err: err}
	}
	backups := backupDir
	if backups == "" {
		backups = "backups"
	}
	if !filepath.IsAbs(backups) {
		backups = filepath.Join(base, backups)
	}

	for _, dir := range []string{base, backups} {
		if err := ensureDir(dir, dirPerm); err != nil {
			return nil, &ConfigurationError{Path: dir, Err: err}
		}
	}
	for _, dir := range []string{base, backups} {
		if err := probeWritable(dir); err != nil {
			return nil, &ConfigurationError{Path: dir, Err: err}
		}
	}

	return &Resolver{baseDir: base, backupDir: backups}, nil
}

func ensureDir(dir string, perm os.FileMode) error {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("not a directory")
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	return os.Chmod(dir, perm)
}

// probeWritable creates and removes a temporary file in dir.
func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// BaseDir returns the absolute base directory.
func (r *Resolver) BaseDir() string {
	return r.baseDir
}

// BackupDir returns the absolute backup directory.
func (r *Resolver) BackupDir() string {
	return r.backupDir
}

// Path returns the absolute path of the named document and its normalized name.
func (r *Resolver) Path(name string) (string, string, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(r.baseDir, n+DocumentExt), n, nil
}

// Names lists the documents present in the base directory, sorted.
func (r *Resolver) Names() ([]string, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.baseDir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), DocumentExt) {
			continue
		}
		if n, err := NormalizeName(e.Name()); err == nil {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}
