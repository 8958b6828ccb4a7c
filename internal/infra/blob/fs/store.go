// Package fs implements a blob Store on a local directory. Each blob is a
// file under the root with a JSON sidecar (file name + ".meta") holding its
// content type, user metadata and checksum.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/coder/quartz"

	"stagedwell/internal/blob/core"
)

const (
	defaultRoot = "./blobdata"
	metaSuffix  = ".meta"
)

var _ core.Store = (*Store)(nil)

// Store implements core.Store on the filesystem. Writers of distinct keys
// do not interfere; concurrent writers of one key race on the final rename.
type Store struct {
	root  string
	clock quartz.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock stamping LastModified.
func WithClock(clock quartz.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// New returns a store rooted at root, creating the directory if needed.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		root = defaultRoot
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	s := &Store{root: root, clock: quartz.NewReal()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Driver returns the blob driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

type metaFile struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (m metaFile) info(key string) core.Info {
	return core.Info{
		Key:          key,
		Size:         m.Size,
		ContentType:  m.ContentType,
		ETag:         m.ETag,
		Metadata:     core.CloneMetadata(m.Metadata),
		LastModified: m.CreatedAt,
	}
}

func (s *Store) pathFor(key string) (clean, dataPath string, err error) {
	clean, err = core.CleanKey(key)
	if err != nil {
		return "", "", err
	}
	if strings.HasSuffix(clean, metaSuffix) {
		return "", "", fmt.Errorf("invalid blob key %q: reserved suffix", key)
	}
	return clean, filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put streams r into a temporary file and moves it into place.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	key, dataPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	if _, err := os.Stat(dataPath); err == nil {
		return core.Info{}, &core.KeyError{Key: key, Err: core.ErrExists}
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o750); err != nil {
		return core.Info{}, fmt.Errorf("create blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return core.Info{}, fmt.Errorf("create temp blob: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("write blob %s: %w", key, err)
	}

	meta := metaFile{
		ContentType: opts.ContentType,
		Metadata:    core.CloneMetadata(opts.Metadata),
		ETag:        hex.EncodeToString(h.Sum(nil)),
		Size:        size,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := writeMeta(dataPath+metaSuffix, meta); err != nil {
		return core.Info{}, err
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		_ = os.Remove(dataPath + metaSuffix)
		return core.Info{}, fmt.Errorf("move blob %s into place: %w", key, err)
	}
	return meta.info(key), nil
}

// Get opens the blob file.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	key, dataPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	meta, err := readMeta(key, dataPath+metaSuffix)
	if err != nil {
		return core.Info{}, nil, err
	}
	file, err := os.Open(dataPath)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, nil, &core.KeyError{Key: key, Err: core.ErrNotFound}
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	return meta.info(key), file, nil
}

// Head reads the sidecar only.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	key, dataPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	meta, err := readMeta(key, dataPath+metaSuffix)
	if err != nil {
		return core.Info{}, err
	}
	return meta.info(key), nil
}

// Delete removes the blob and its sidecar.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	_, dataPath, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(dataPath); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	_ = os.Remove(dataPath + metaSuffix)
	return true, nil
}

// List walks the root for sidecars whose key starts with prefix.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	err := filepath.WalkDir(s.root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(p, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		meta, err := readMeta(key, p)
		if err != nil {
			return err
		}
		infos = append(infos, meta.info(key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func writeMeta(path string, meta metaFile) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode blob metadata: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write blob metadata: %w", err)
	}
	return nil
}

func readMeta(key, path string) (metaFile, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, iofs.ErrNotExist) {
		return metaFile{}, &core.KeyError{Key: key, Err: core.ErrNotFound}
	}
	if err != nil {
		return metaFile{}, err
	}
	var meta metaFile
	if err := json.Unmarshal(b, &meta); err != nil {
		return metaFile{}, fmt.Errorf("decode blob metadata %s: %w", key, err)
	}
	return meta, nil
}
