package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/livinlefevreloca/collector/internal/record"
	"github.com/livinlefevreloca/collector/internal/timefmt"
)

const (
	filePrefix = "data_"
	fileSuffix = ".json"

	// suffixes tried when two batches share a collection second
	maxNameAttempts = 1000

	tempPattern = ".data-*.tmp"

	// persisted batches are read by downstream consumers running as other users
	fileMode os.FileMode = 0o644
)

// ErrStorageFailure classifies every persistence error
var ErrStorageFailure = errors.New("store: storage failure")

// StorageError wraps the failing operation and path
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageFailure, e.Err}
}

// Config holds the file store settings
type Config struct {
	Directory string `toml:"directory"`
}

// DefaultConfig returns the default storage layout
func DefaultConfig() Config {
	return Config{
		Directory: "data/collected",
	}
}

// FileStore writes one JSON document per batch into a directory
type FileStore struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	dirDone bool

	// encode writes the batch document; replaced in tests to simulate write failures
	encode func(w io.Writer, batch *record.Batch) error
}

// NewFileStore creates a store rooted at cfg.Directory. The directory is created lazily.
func NewFileStore(cfg Config, logger *slog.Logger) (*FileStore, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("storage directory must be specified")
	}
	return &FileStore{
		dir:    cfg.Directory,
		logger: logger,
		encode: encodeBatch,
	}, nil
}

// Dir returns the storage directory
func (s *FileStore) Dir() string {
	return s.dir
}

func encodeBatch(w io.Writer, batch *record.Batch) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(batch)
}

// ensureDir creates the storage directory once; a failed attempt is retried next time
func (s *FileStore) ensureDir() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirDone {
		return nil
	}
	if _, err := os.Stat(s.dir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return &StorageError{Op: "mkdir", Path: s.dir, Err: err}
		}
		s.logger.Info("created data directory", "directory", s.dir)
	} else if err != nil {
		return &StorageError{Op: "stat", Path: s.dir, Err: err}
	}

	s.dirDone = true
	return nil
}

// FileName derives the base file name for a batch from its collection time
func FileName(batch *record.Batch) string {
	return filePrefix + batch.CollectionTime.Format(timefmt.FileStamp) + fileSuffix
}

// Persist writes the batch and returns the path of the new file. The write is
// all-or-nothing: the document is fully written and synced to a temporary file,
// then linked to a name that is not yet taken. Existing files are never replaced.
func (s *FileStore) Persist(ctx context.Context, batch *record.Batch) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &StorageError{Op: "persist", Path: s.dir, Err: err}
	}
	if err := s.ensureDir(); err != nil {
		return "", err
	}

	tmp, err := s.createTemp()
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return "", &StorageError{Op: "chmod", Path: tmpPath, Err: err}
	}
	if err := s.encode(tmp, batch); err != nil {
		tmp.Close()
		return "", &StorageError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", &StorageError{Op: "sync", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &StorageError{Op: "close", Path: tmpPath, Err: err}
	}

	path, err := s.commit(tmpPath, FileName(batch))
	if err != nil {
		return "", err
	}

	s.logger.Info("batch persisted", "path", path, "data_cnt", batch.RecordCount())
	return path, nil
}

// createTemp opens the temporary file, recreating the directory once if it
// was removed after ensureDir last saw it
func (s *FileStore) createTemp() (*os.File, error) {
	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("data directory is gone, recreating it", "directory", s.dir)
		s.mu.Lock()
		s.dirDone = false
		s.mu.Unlock()
		if err := s.ensureDir(); err != nil {
			return nil, err
		}
		tmp, err = os.CreateTemp(s.dir, tempPattern)
	}
	if err != nil {
		return nil, &StorageError{Op: "create", Path: s.dir, Err: err}
	}
	return tmp, nil
}

// commit hard-links tmpPath under the first free name derived from base
func (s *FileStore) commit(tmpPath, base string) (string, error) {
	stem := strings.TrimSuffix(base, fileSuffix)

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := base
		if attempt > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, attempt, fileSuffix)
		}
		path := filepath.Join(s.dir, name)

		err := os.Link(tmpPath, path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", &StorageError{Op: "commit", Path: path, Err: err}
		}
		s.logger.Warn("batch file name already taken", "path", path)
	}

	return "", &StorageError{Op: "commit", Path: filepath.Join(s.dir, base), Err: errors.New("no free file name")}
}

// Load reads a persisted batch file back
func (s *FileStore) Load(path string) (*record.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}

	var batch record.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, &StorageError{Op: "decode", Path: path, Err: err}
	}
	return &batch, nil
}

// List returns the persisted batch files ordered by collection stamp, then by
// collision suffix. Stamps are local wall-clock time, so batches from the
// repeated hour of a DST fall-back are not told apart.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "list", Path: s.dir, Err: err}
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, name))
	}
	sort.SliceStable(paths, func(i, j int) bool {
		si, ni := nameKey(filepath.Base(paths[i]))
		sj, nj := nameKey(filepath.Base(paths[j]))
		if si != sj {
			return si < sj
		}
		return ni < nj
	})
	return paths, nil
}

// nameKey splits a batch file name into its stamp and collision suffix,
// data_<stamp>_<n>.json; a name without a suffix has n == 0
func nameKey(name string) (string, int) {
	stem := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	if len(stem) > len(timefmt.FileStamp)+1 && stem[len(timefmt.FileStamp)] == '_' {
		if n, err := strconv.Atoi(stem[len(timefmt.FileStamp)+1:]); err == nil {
			return stem[:len(timefmt.FileStamp)], n
		}
	}
	return stem, 0
}
