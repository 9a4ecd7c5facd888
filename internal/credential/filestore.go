package credential

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/selfvisor/internal/errors"
	"github.com/Iron-Ham/selfvisor/internal/keylock"
	"github.com/Iron-Ham/selfvisor/internal/logging"
)

const (
	dirPerm  = 0o755
	filePerm = 0o600
)

// Option configures a FileStore.
type Option func(*FileStore)

// WithFs replaces the filesystem. Tests use afero.NewMemMapFs.
func WithFs(fs afero.Fs) Option {
	return func(s *FileStore) {
		s.fs = fs
	}
}

// WithFileName sets the credential file name inside each user directory.
func WithFileName(name string) Option {
	return func(s *FileStore) {
		if name != "" {
			s.fileName = name
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// FileStore keeps one JSON credential file per user directory below root.
// It is safe for concurrent use.
type FileStore struct {
	fs       afero.Fs
	root     string
	fileName string
	locks    keylock.Map[int64]
	flock    bool // cross-process locking; only meaningful on the OS filesystem
	logger   *logging.Logger
}

// NewFileStore creates a FileStore rooted at root.
func NewFileStore(root string, opts ...Option) *FileStore {
	s := &FileStore{
		fs:       afero.NewOsFs(),
		root:     root,
		fileName: DefaultFileName,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	_, s.flock = s.fs.(*afero.OsFs)
	s.logger = s.logger.WithPhase("credential")
	return s
}

// Root returns the users directory.
func (s *FileStore) Root() string {
	return s.root
}

// FileName returns the credential file name used inside user directories.
func (s *FileStore) FileName() string {
	return s.fileName
}

// Dir returns the directory of userID.
func (s *FileStore) Dir(userID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(userID, 10))
}

// Path returns the credential file path of userID.
func (s *FileStore) Path(userID int64) string {
	return filepath.Join(s.Dir(userID), s.fileName)
}

// Create implements Store.
func (s *FileStore) Create(userID, apiID int64, apiHash, phone string) (*Record, bool, error) {
	if err := validateIdentity(userID, apiID, apiHash); err != nil {
		return nil, false, errors.NewUserError("create credentials", userID, err)
	}

	var (
		rec     *Record
		created bool
		err     error
	)
	lockErr := s.withLock(userID, func() {
		rec, err = s.read(userID)
		if err == nil {
			return
		}
		if !errors.Is(err, errors.ErrNotFound) {
			return
		}

		rec = NewRecord(userID, apiID, apiHash, strings.TrimSpace(phone))
		if err = s.write(userID, rec); err == nil {
			created = true
		}
	})
	if lockErr != nil {
		return nil, false, errors.NewUserError("create credentials", userID, lockErr)
	}
	if err != nil {
		return nil, false, errors.NewUserError("create credentials", userID, err)
	}

	if created {
		s.logger.WithUser(userID).Info("credential record created", "path", s.Path(userID))
	} else {
		s.logger.WithUser(userID).Debug("credential record already exists")
	}
	return rec.Clone(), created, nil
}

// Read implements Store.
func (s *FileStore) Read(userID int64) (*Record, error) {
	rec, err := s.read(userID)
	if err != nil {
		return nil, errors.NewUserError("read credentials", userID, err)
	}
	return rec, nil
}

// Update implements Store. Identity fields (api_id, api_hash, owner_id,
// session_name, schema_version) cannot be changed by mutate.
func (s *FileStore) Update(userID int64, mutate Mutator) (*Record, error) {
	var (
		rec *Record
		err error
	)
	lockErr := s.withLock(userID, func() {
		var current *Record
		current, err = s.read(userID)
		if err != nil {
			return
		}

		next := current.Clone()
		if err = mutate(next); err != nil {
			return
		}
		if err = checkImmutable(current, next); err != nil {
			return
		}
		if err = next.Validate(userID); err != nil {
			return
		}
		if err = s.write(userID, next); err != nil {
			return
		}
		rec = next
	})
	if lockErr != nil {
		return nil, errors.NewUserError("update credentials", userID, lockErr)
	}
	if err != nil {
		return nil, errors.NewUserError("update credentials", userID, err)
	}
	return rec.Clone(), nil
}

// ListAll implements Store. Directories that are not user ids or hold no
// credential file are skipped.
func (s *FileStore) ListAll() ([]int64, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []int64{}, nil
		}
		return nil, fmt.Errorf("list users: %w", err)
	}

	ids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, ok := ParseUserDir(entry.Name())
		if !ok {
			continue
		}
		exists, err := afero.Exists(s.fs, s.Path(id))
		if err != nil {
			s.logger.WithUser(id).Warn("failed to stat credential file", "error", err)
			continue
		}
		if exists {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// ParseUserDir reports whether name is a user directory and returns its id.
func ParseUserDir(name string) (int64, bool) {
	id, err := strconv.ParseInt(name, 10, 64)
	if err != nil || id <= 0 || strconv.FormatInt(id, 10) != name {
		return 0, false
	}
	return id, true
}

func (s *FileStore) read(userID int64) (*Record, error) {
	data, err := afero.ReadFile(s.fs, s.Path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrNotFound
		}
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	return Decode(data, userID)
}

// write replaces the credential file atomically: the record is written to a
// temporary file first, then renamed into place.
func (s *FileStore) write(userID int64, rec *Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(s.Dir(userID), dirPerm); err != nil {
		return fmt.Errorf("create user directory: %w", err)
	}

	target := s.Path(userID)
	tmp := target + ".tmp"

	if err := afero.WriteFile(s.fs, tmp, data, filePerm); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := s.fs.Rename(tmp, target); err != nil {
		_ = s.fs.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// withLock runs fn holding the in-process lock for userID and, on the OS
// filesystem, the cross-process flock of the user directory.
func (s *FileStore) withLock(userID int64, fn func()) error {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	if !s.flock {
		fn()
		return nil
	}

	if err := s.fs.MkdirAll(s.Dir(userID), dirPerm); err != nil {
		return fmt.Errorf("create user directory: %w", err)
	}
	fl := newFileLock(s.Dir(userID))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	fn()
	return nil
}

func validateIdentity(userID, apiID int64, apiHash string) error {
	if userID <= 0 {
		return errors.NewValidationError("user_id", "must be positive")
	}
	if apiID <= 0 {
		return errors.NewValidationError("api_id", "must be a positive integer")
	}
	if strings.TrimSpace(apiHash) == "" {
		return errors.NewValidationError("api_hash", "cannot be empty")
	}
	return nil
}

func checkImmutable(before, after *Record) error {
	switch {
	case before.APIID != after.APIID:
		return errors.NewValidationError("api_id", "is immutable")
	case before.APIHash != after.APIHash:
		return errors.NewValidationError("api_hash", "is immutable")
	case before.OwnerID != after.OwnerID:
		return errors.NewValidationError("owner_id", "is immutable")
	case before.SessionName != after.SessionName:
		return errors.NewValidationError("session_name", "is immutable")
	case before.SchemaVersion != after.SchemaVersion:
		return errors.NewValidationError("schema_version", "is immutable")
	}
	return nil
}

var _ Store = (*FileStore)(nil)
