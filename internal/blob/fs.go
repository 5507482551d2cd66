package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const metaSuffix = ".meta.json"

// FilesystemStore persists blobs as regular files under a root directory,
// with a JSON sidecar per object carrying content type and user metadata.
type FilesystemStore struct {
	root string
}

// NewFilesystem creates (if needed) the root directory and returns a store
// rooted at it. An empty root defaults to ./blobdata.
func NewFilesystem(root string) (*FilesystemStore, error) {
	if root == "" {
		root = "blobdata"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FilesystemStore{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *FilesystemStore) Root() string { return s.root }

// sanitizeKey rejects keys that would escape the root.
func (s *FilesystemStore) sanitizeKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob key required")
	}
	if strings.Contains(key, "\x00") {
		return "", fmt.Errorf("blob key contains NUL byte")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("blob key %q escapes storage root", key)
	}
	return filepath.Join(s.root, clean), nil
}

type fsSidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	ETag        string            `json:"etag,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (s *FilesystemStore) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	path, err := s.sanitizeKey(key)
	if err != nil {
		return Info{}, err
	}
	if _, err := os.Stat(path); err == nil {
		return Info{}, fmt.Errorf("blob %s already exists", key)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Info{}, fmt.Errorf("stat blob %s: %w", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Info{}, fmt.Errorf("create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return Info{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return Info{}, fmt.Errorf("write blob payload: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return Info{}, fmt.Errorf("finalize blob %s: %w", key, err)
	}

	now := time.Now().UTC()
	sidecar := fsSidecar{
		ContentType: opts.ContentType,
		ETag:        hex.EncodeToString(hasher.Sum(nil)),
		Metadata:    cloneMetadata(opts.Metadata),
		CreatedAt:   now,
	}
	raw, err := json.Marshal(sidecar)
	if err != nil {
		return Info{}, fmt.Errorf("encode blob metadata: %w", err)
	}
	if err := os.WriteFile(path+metaSuffix, raw, 0o644); err != nil {
		os.Remove(path)
		return Info{}, fmt.Errorf("write blob metadata: %w", err)
	}
	return Info{
		Key:          key,
		Size:         size,
		ContentType:  sidecar.ContentType,
		ETag:         sidecar.ETag,
		Metadata:     cloneMetadata(sidecar.Metadata),
		LastModified: now,
	}, nil
}

func (s *FilesystemStore) stat(key, path string) (Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, fmt.Errorf("blob %s not found", key)
		}
		return Info{}, fmt.Errorf("stat blob %s: %w", key, err)
	}
	info := Info{Key: key, Size: fi.Size(), LastModified: fi.ModTime().UTC()}
	raw, err := os.ReadFile(path + metaSuffix)
	if err == nil {
		var sidecar fsSidecar
		if jerr := json.Unmarshal(raw, &sidecar); jerr == nil {
			info.ContentType = sidecar.ContentType
			info.ETag = sidecar.ETag
			info.Metadata = cloneMetadata(sidecar.Metadata)
			if !sidecar.CreatedAt.IsZero() {
				info.LastModified = sidecar.CreatedAt
			}
		}
	}
	return info, nil
}

func (s *FilesystemStore) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, nil, err
	}
	path, err := s.sanitizeKey(key)
	if err != nil {
		return Info{}, nil, err
	}
	info, err := s.stat(key, path)
	if err != nil {
		return Info{}, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Info{}, nil, fmt.Errorf("open blob %s: %w", key, err)
	}
	return info, f, nil
}

func (s *FilesystemStore) Head(ctx context.Context, key string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	path, err := s.sanitizeKey(key)
	if err != nil {
		return Info{}, err
	}
	return s.stat(key, path)
}

func (s *FilesystemStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.sanitizeKey(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete blob %s: %w", key, err)
	}
	os.Remove(path + metaSuffix)
	return true, nil
}

func (s *FilesystemStore) List(ctx context.Context, prefix string) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var infos []Info
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		if strings.HasPrefix(filepath.Base(path), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.stat(key, path)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL is not supported for local files.
func (s *FilesystemStore) PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error) {
	return "", ErrUnsupported
}

func (s *FilesystemStore) Driver() Driver { return DriverFilesystem }

var _ Store = (*FilesystemStore)(nil)
