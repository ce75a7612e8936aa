package docstore

import (
	"context"
	"os"
	"runtime"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// CheckResult is the health of one document.
type CheckResult struct {
	Name    string `json:"name" yaml:"name"`
	Path    string `json:"path" yaml:"path"`
	Exists  bool   `json:"exists" yaml:"exists"`
	Valid   bool   `json:"valid" yaml:"valid"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
	Backups int    `json:"backups" yaml:"backups"`
	// Recoverable is set when the document is unusable but a decodable
	// backup exists.
	Recoverable bool `json:"recoverable,omitempty" yaml:"recoverable,omitempty"`
}

// OK reports whether the document exists and decodes.
func (r CheckResult) OK() bool {
	return r.Exists && r.Valid
}

// Check validates the named documents, or every document in the base
// directory when no names are given. It never locks, seeds or repairs;
// commits are atomic so an unlocked read sees a complete version. Results
// are returned in the order of names.
func (s *Store) Check(ctx context.Context, names ...string) ([]CheckResult, error) {
	if len(names) == 0 {
		var err error
		if names, err = s.List(); err != nil {
			return nil, err
		}
	}

	results := make([]CheckResult, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = s.check(name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) check(name string) CheckResult {
	path, n, err := s.resolver.Path(name)
	if err != nil {
		return CheckResult{Name: name, Error: err.Error()}
	}
	res := CheckResult{Name: n, Path: path}

	backups, err := s.backups.List(n)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Backups = len(backups)

	data, err := afero.ReadFile(s.fs, path)
	switch {
	case os.IsNotExist(err):
		res.Error = "document does not exist"
	case err != nil:
		res.Exists = true
		res.Error = err.Error()
	case blank(data):
		res.Exists = true
		res.Error = "document is empty"
	default:
		res.Exists = true
		if err := validDocument(data); err != nil {
			res.Error = err.Error()
		} else {
			res.Valid = true
		}
	}

	if !res.OK() && len(backups) > 0 {
		if _, _, err := s.backups.RestoreLatest(n, validDocument); err == nil {
			res.Recoverable = true
		}
	}
	return res
}
