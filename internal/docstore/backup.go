package docstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// BackupExt is the extension of backup files.
const BackupExt = ".bck"

// Backup timestamps are UTC and sort lexicographically.
const (
	backupTimeLayout = "20060102_150405.000000"
	// Older portal tooling wrote second-resolution names without a token.
	legacyTimeLayout = "20060102_150405"
	tokenLen         = 8
)

// Backup is an immutable snapshot of a document's content.
type Backup struct {
	Document  string    `json:"document" yaml:"document"`
	Name      string    `json:"name" yaml:"name"`
	Path      string    `json:"path" yaml:"path"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Size      int64     `json:"size" yaml:"size"`
}

// Backups manages the append-only backup area of a store.
type Backups struct {
	fs        afero.Fs
	dir       string
	committer *Committer

	now   func() time.Time
	token func() string
}

// NewBackups returns a manager for backups stored in dir. Backup files are
// committed atomically with perm.
func NewBackups(fs afero.Fs, dir string, perm os.FileMode) *Backups {
	return &Backups{
		fs:        fs,
		dir:       dir,
		committer: NewCommitter(fs, perm),
		now:       time.Now,
		token:     randomToken,
	}
}

// Dir returns the backup directory.
func (b *Backups) Dir() string {
	return b.dir
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:tokenLen]
}

// Snapshot copies the current content of the document at docPath into the
// backup area. It returns nil, nil when the document does not exist.
func (b *Backups) Snapshot(name, docPath string) (*Backup, error) {
	data, err := afero.ReadFile(b.fs, docPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s for backup: %w", docPath, err)
	}

	ts := b.now().UTC()
	fileName := fmt.Sprintf("%s_%s_%s%s", name, ts.Format(backupTimeLayout), b.token(), BackupExt)
	path := filepath.Join(b.dir, fileName)

	if err := b.committer.Commit(path, data); err != nil {
		return nil, fmt.Errorf("write backup %s: %w", fileName, err)
	}

	return &Backup{
		Document:  name,
		Name:      fileName,
		Path:      path,
		Timestamp: ts,
		Size:      int64(len(data)),
	}, nil
}

// Sweep removes pending backup files of the named document left behind by a
// writer that died before renaming. Only call it while holding the document
// lock.
func (b *Backups) Sweep(name string) (int, error) {
	matches, err := afero.Glob(b.fs, filepath.Join(b.dir, "."+name+"_*"+BackupExt+tempInfix+"*"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		base, _, ok := strings.Cut(strings.TrimPrefix(filepath.Base(m), "."), tempInfix)
		if !ok {
			continue
		}
		if _, ok := parseBackupName(name, base); !ok {
			continue
		}
		if err := b.fs.Remove(m); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// List returns the backups of a document, oldest first.
func (b *Backups) List(name string) ([]Backup, error) {
	entries, err := afero.ReadDir(b.fs, b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var backups []Backup
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ts, ok := parseBackupName(name, e.Name())
		if !ok {
			continue
		}
		backups = append(backups, Backup{
			Document:  name,
			Name:      e.Name(),
			Path:      filepath.Join(b.dir, e.Name()),
			Timestamp: ts,
			Size:      e.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].Timestamp.Equal(backups[j].Timestamp) {
			return backups[i].Timestamp.Before(backups[j].Timestamp)
		}
		return backups[i].Name < backups[j].Name
	})
	return backups, nil
}

// parseBackupName extracts the timestamp from "<name>_<timestamp>[_<token>].bck".
func parseBackupName(name, fileName string) (time.Time, bool) {
	prefix := name + "_"
	if !strings.HasPrefix(fileName, prefix) || !strings.HasSuffix(fileName, BackupExt) {
		return time.Time{}, false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(fileName, prefix), BackupExt)

	switch len(rest) {
	case len(backupTimeLayout) + 1 + tokenLen:
		if rest[len(backupTimeLayout)] != '_' || !isHex(rest[len(backupTimeLayout)+1:]) {
			return time.Time{}, false
		}
		rest = rest[:len(backupTimeLayout)]
		fallthrough
	case len(backupTimeLayout):
		ts, err := time.Parse(backupTimeLayout, rest)
		return ts, err == nil
	case len(legacyTimeLayout):
		ts, err := time.Parse(legacyTimeLayout, rest)
		return ts, err == nil
	}
	return time.Time{}, false
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// Exists reports whether at least one backup of the document exists.
func (b *Backups) Exists(name string) (bool, error) {
	list, err := b.List(name)
	if err != nil {
		return false, err
	}
	return len(list) > 0, nil
}

// RestoreLatest returns the content of the newest backup that passes valid,
// walking back through older backups when newer ones fail. It never deletes
// backups. A nil valid accepts the newest backup as is.
func (b *Backups) RestoreLatest(name string, valid func([]byte) error) ([]byte, *Backup, error) {
	list, err := b.List(name)
	if err != nil {
		return nil, nil, err
	}
	if len(list) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoBackup, name)
	}

	var rejected []error
	for i := len(list) - 1; i >= 0; i-- {
		bk := list[i]
		data, err := afero.ReadFile(b.fs, bk.Path)
		if err != nil {
			rejected = append(rejected, fmt.Errorf("%s: %w", bk.Name, err))
			continue
		}
		if valid != nil {
			if err := valid(data); err != nil {
				rejected = append(rejected, fmt.Errorf("%s: %w", bk.Name, err))
				continue
			}
		}
		return data, &bk, nil
	}
	return nil, nil, fmt.Errorf("%w: %s: all %d backups rejected: %w",
		ErrNoBackup, name, len(list), errors.Join(rejected...))
}

// Read returns the content of a specific backup of the document.
func (b *Backups) Read(name, fileName string) ([]byte, *Backup, error) {
	if _, ok := parseBackupName(name, fileName); !ok || filepath.Base(fileName) != fileName {
		return nil, nil, fmt.Errorf("%w: %q is not a backup of %s", ErrNoBackup, fileName, name)
	}
	list, err := b.List(name)
	if err != nil {
		return nil, nil, err
	}
	for _, bk := range list {
		if bk.Name == fileName {
			data, err := afero.ReadFile(b.fs, bk.Path)
			if err != nil {
				return nil, nil, fmt.Errorf("read backup %s: %w", fileName, err)
			}
			return data, &bk, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrNoBackup, fileName)
}

// Prune deletes all but the newest keep backups of the document and returns
// what it removed. It is the only operation that deletes backups.
func (b *Backups) Prune(name string, keep int) ([]Backup, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep must be non-negative, got %d", keep)
	}
	list, err := b.List(name)
	if err != nil {
		return nil, err
	}
	if len(list) <= keep {
		return nil, nil
	}

	var removed []Backup
	for _, bk := range list[:len(list)-keep] {
		if err := b.fs.Remove(bk.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove backup %s: %w", bk.Name, err)
		}
		removed = append(removed, bk)
	}
	return removed, nil
}
