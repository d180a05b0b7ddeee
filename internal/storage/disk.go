package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"
)

// DiskStore keeps objects as files below a root directory. Content types are
// derived from the key's extension.
type DiskStore struct {
	root string
}

// NewDiskStore creates the root directory if needed.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskStore{root: root}, nil
}

func (d *DiskStore) path(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.root, filepath.FromSlash(cleaned)), nil
}

// Put writes the object through a temp file and renames it into place, so
// readers never see a partial object.
func (d *DiskStore) Put(ctx context.Context, key string, r io.Reader, size int64, _ string) error {
	target, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(target), ".upload_tmp_")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath) // No-op after a successful rename
	}()

	src := r
	if size >= 0 {
		src = io.LimitReader(r, size+1)
	}
	written, err := io.Copy(tmpFile, contextReader{ctx: ctx, r: src})
	if err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("write object: got %d bytes, expected %d", written, size)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close object: %w", err)
	}

	return os.Rename(tmpPath, target)
}

func (d *DiskStore) Open(_ context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open object: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat object: %w", err)
	}
	if stat.IsDir() {
		f.Close()
		return nil, nil, ErrObjectNotFound
	}
	return f, &ObjectInfo{
		Key:         key,
		Size:        stat.Size(),
		ContentType: contentTypeFor(key),
		ModifiedAt:  stat.ModTime(),
	}, nil
}

func (d *DiskStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := d.path(key)
	if err != nil {
		return false, err
	}
	stat, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !stat.IsDir(), nil
}

// PresignGet is not available on disk; callers stream through Open instead.
func (d *DiskStore) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", ErrPresignNotSupported
}

func (d *DiskStore) Delete(_ context.Context, key string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Root returns the storage directory path.
func (d *DiskStore) Root() string {
	return d.root
}

func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
