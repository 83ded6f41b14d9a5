package lfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

var oidPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ValidateOID rejects anything that is not exactly 64 characters of lowercase
// hex. Every operation validates before touching the filesystem.
func ValidateOID(oid string) error {
	if !oidPattern.MatchString(oid) {
		return ErrInvalidOID
	}
	return nil
}

// LocalStorage keeps objects under <basePath>/<repoID>/objects/<xx>/<yy>/<oid>
// with in-flight uploads staged in <basePath>/<repoID>/tmp.
type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// objectPath fans objects out across two prefix levels so no single directory
// grows pathologically wide.
func (s *LocalStorage) objectPath(repoID, oid string) string {
	return filepath.Join(s.basePath, repoID, "objects", oid[:2], oid[2:4], oid)
}

func (s *LocalStorage) tmpDir(repoID string) string {
	return filepath.Join(s.basePath, repoID, "tmp")
}

func (s *LocalStorage) Exists(ctx context.Context, repoID, oid string) (bool, error) {
	if err := ValidateOID(oid); err != nil {
		return false, err
	}

	_, err := os.Stat(s.objectPath(repoID, oid))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

func (s *LocalStorage) Get(ctx context.Context, repoID, oid string) (io.ReadCloser, int64, error) {
	if err := ValidateOID(oid); err != nil {
		return nil, 0, err
	}

	path := s.objectPath(repoID, oid)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, 0, ErrObjectNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("stat object: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open object: %w", err)
	}

	return file, info.Size(), nil
}

// Put streams content into a temp file, verifying the declared size and the
// SHA-256 hash before renaming the file into its content-addressed path. The
// rename publishes the object atomically; renaming over an existing object is
// harmless because both files hold identical bytes by construction.
func (s *LocalStorage) Put(ctx context.Context, repoID, oid string, content io.Reader, size int64) error {
	if err := ValidateOID(oid); err != nil {
		return err
	}

	tmpDir := s.tmpDir(repoID)
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return fmt.Errorf("create tmp directory: %w", err)
	}

	tmpPath := filepath.Join(tmpDir, uuid.New().String())
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmpPath)

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmpFile, hasher), content)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("write content: %w", err)
	}

	if written != size {
		tmpFile.Close()
		return fmt.Errorf("%w: expected size %d, got size %d", ErrHashMismatch, size, written)
	}

	computed := hex.EncodeToString(hasher.Sum(nil))
	if computed != oid {
		tmpFile.Close()
		return fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, oid, computed)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	finalPath := s.objectPath(repoID, oid)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("move to final path: %w", err)
	}

	return nil
}

// Delete unlinks an object, reporting false when it was already absent.
func (s *LocalStorage) Delete(ctx context.Context, repoID, oid string) (bool, error) {
	if err := ValidateOID(oid); err != nil {
		return false, err
	}

	if err := os.Remove(s.objectPath(repoID, oid)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove object: %w", err)
	}
	return true, nil
}

func (s *LocalStorage) Size(ctx context.Context, repoID, oid string) (int64, error) {
	if err := ValidateOID(oid); err != nil {
		return 0, err
	}

	info, err := os.Stat(s.objectPath(repoID, oid))
	if os.IsNotExist(err) {
		return 0, ErrObjectNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("stat object: %w", err)
	}
	return info.Size(), nil
}

// RemoveRepo discards the repository's entire object tree.
func (s *LocalStorage) RemoveRepo(ctx context.Context, repoID string) error {
	if repoID == "" {
		return fmt.Errorf("empty repo ID")
	}
	return os.RemoveAll(filepath.Join(s.basePath, repoID))
}

// SweepTmp removes staged uploads left behind by interrupted requests. Run at
// startup, before the server accepts traffic.
func (s *LocalStorage) SweepTmp() error {
	entries, err := os.ReadDir(s.basePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read storage root: %w", err)
	}

	var firstErr error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := os.RemoveAll(s.tmpDir(entry.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
