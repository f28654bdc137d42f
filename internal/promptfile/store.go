package promptfile

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// FSStore reads prompt files from a directory.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a store reading from the given directory.
func NewFSStore(baseDir string) *FSStore {
	return &FSStore{baseDir: baseDir}
}

// List returns every valid *.md file in the directory, sorted by file name.
// Invalid files are skipped with a warning.
func (s *FSStore) List() ([]*File, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, errors.Wrap(err, "reading prompt dir")
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	files := make([]*File, 0, len(names))
	for _, name := range names {
		f, err := ReadFile(filepath.Join(s.baseDir, name))
		if err != nil {
			slog.Warn("skipping prompt file", "path", filepath.Join(s.baseDir, name), "error", err)
			continue
		}
		files = append(files, f)
	}
	return files, nil
}

// ReadFile parses a single prompt file from disk.
func ReadFile(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading prompt file")
	}
	return Parse(string(content), path)
}

// Collect loads prompt files from a mix of file and directory paths, keeping
// argument order. Directories expand to their sorted contents.
func Collect(paths []string) ([]*File, error) {
	var files []*File
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrap(err, "reading prompt path")
		}
		if info.IsDir() {
			dirFiles, err := NewFSStore(p).List()
			if err != nil {
				return nil, err
			}
			files = append(files, dirFiles...)
			continue
		}
		f, err := ReadFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}
