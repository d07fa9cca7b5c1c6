package backend

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/coldfront/coldfront/pkg/types"
)

func init() {
	Register(types.StoreTypeFS, func(cfg types.StoreConfig) (types.TierStore, error) {
		return NewFSStore(cfg.Path)
	})
}

// FSStore persists objects under root/bucket/object. Writes land in a
// work file first and are renamed into place, so readers never observe
// a partial object.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem store rooted at path
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("fs store: path is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("fs store: create root %s: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

func (l *FSStore) Type() types.StoreType { return types.StoreTypeFS }

// objectPath resolves and confines the object path to the bucket dir.
func (l *FSStore) objectPath(bucket, object string) (string, error) {
	bucketDir := filepath.Join(l.root, bucket)
	path := filepath.Join(bucketDir, filepath.FromSlash(object))
	if !strings.HasPrefix(path, bucketDir+string(filepath.Separator)) {
		return "", fmt.Errorf("fs store: object name %q escapes bucket", object)
	}
	return path, nil
}

func (l *FSStore) Write(ctx context.Context, bucket, object string, data io.Reader, size int64) error {
	path, err := l.objectPath(bucket, object)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	work, err := os.CreateTemp(dir, ".work-*")
	if err != nil {
		return fmt.Errorf("create work file in %s: %w", dir, err)
	}
	workPath := work.Name()

	n, err := io.Copy(work, data)
	if err != nil {
		work.Close()
		os.Remove(workPath)
		return fmt.Errorf("write object %s/%s: %w", bucket, object, err)
	}
	if size >= 0 && n != size {
		work.Close()
		os.Remove(workPath)
		return fmt.Errorf("write object %s/%s: size mismatch: declared %d, wrote %d", bucket, object, size, n)
	}

	if err := Fdatasync(work); err != nil {
		work.Close()
		os.Remove(workPath)
		return fmt.Errorf("sync object %s/%s: %w", bucket, object, err)
	}
	if err := work.Close(); err != nil {
		os.Remove(workPath)
		return fmt.Errorf("close object %s/%s: %w", bucket, object, err)
	}

	if err := os.Rename(workPath, path); err != nil {
		os.Remove(workPath)
		return fmt.Errorf("commit object %s/%s: %w", bucket, object, err)
	}
	return nil
}

func (l *FSStore) Read(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	path, err := l.objectPath(bucket, object)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("fs %s/%s: %w", bucket, object, ErrNotFound)
		}
		return nil, fmt.Errorf("open object %s/%s: %w", bucket, object, err)
	}
	return f, nil
}

func (l *FSStore) ReadRange(ctx context.Context, bucket, object string, offset, length int64) (io.ReadCloser, error) {
	path, err := l.objectPath(bucket, object)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("fs %s/%s: %w", bucket, object, ErrNotFound)
		}
		return nil, fmt.Errorf("open object %s/%s: %w", bucket, object, err)
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek object %s/%s to %d: %w", bucket, object, offset, err)
	}
	if length < 0 {
		return f, nil
	}
	return &limitedReadCloser{
		Reader: io.LimitReader(f, length),
		closer: f,
	}, nil
}

func (l *FSStore) Delete(ctx context.Context, bucket, object string) error {
	path, err := l.objectPath(bucket, object)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s/%s: %w", bucket, object, err)
	}
	return nil
}

func (l *FSStore) Exists(ctx context.Context, bucket, object string) (bool, error) {
	path, err := l.objectPath(bucket, object)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *FSStore) Head(ctx context.Context, bucket, object string) (types.ObjectAttrs, error) {
	path, err := l.objectPath(bucket, object)
	if err != nil {
		return types.ObjectAttrs{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.ObjectAttrs{}, fmt.Errorf("fs %s/%s: %w", bucket, object, ErrNotFound)
		}
		return types.ObjectAttrs{}, fmt.Errorf("stat object %s/%s: %w", bucket, object, err)
	}
	// Checksums for cached objects live in the location index, not on disk.
	return types.ObjectAttrs{Size: fi.Size()}, nil
}

func (l *FSStore) ListPage(ctx context.Context, bucket string, opts types.ListPageOpts) (types.ListPage, error) {
	bucketDir := filepath.Join(l.root, bucket)
	if _, err := os.Stat(bucketDir); err != nil {
		if os.IsNotExist(err) {
			return types.ListPage{}, fmt.Errorf("fs list %s: %w", bucket, ErrBucketNotFound)
		}
		return types.ListPage{}, err
	}

	type fsEntry struct {
		name string
		size int64
	}
	var all []fsEntry
	err := filepath.WalkDir(bucketDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".work-") {
			return nil
		}
		rel, err := filepath.Rel(bucketDir, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		all = append(all, fsEntry{name: filepath.ToSlash(rel), size: fi.Size()})
		return nil
	})
	if err != nil {
		return types.ListPage{}, fmt.Errorf("walk bucket %s: %w", bucket, err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].name < all[j].name })

	page := types.ListPage{}
	for _, e := range all {
		if !acceptName(e.name, opts) {
			continue
		}
		if opts.Limit > 0 && len(page.Entries) >= opts.Limit {
			page.NextMarker = page.Entries[len(page.Entries)-1].Name
			break
		}
		page.Entries = append(page.Entries, types.ObjectEntry{Name: e.name, Size: e.size})
	}
	return page, nil
}

func (l *FSStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	fi, err := os.Stat(filepath.Join(l.root, bucket))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return fi.IsDir(), nil
}

// RemoveBucket drops the bucket directory and all cached objects in it.
func (l *FSStore) RemoveBucket(ctx context.Context, bucket string) error {
	bucketDir := filepath.Join(l.root, bucket)
	if err := os.RemoveAll(bucketDir); err != nil {
		return fmt.Errorf("remove bucket dir %s: %w", bucketDir, err)
	}
	return nil
}

// Usage walks the store and sums object sizes. The LRU runner calls
// this once per interval, so the walk cost is acceptable.
func (l *FSStore) Usage(ctx context.Context) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		total += uint64(fi.Size())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk store root %s: %w", l.root, err)
	}
	return total, nil
}

func (l *FSStore) Close() error { return nil }

// limitedReadCloser wraps a length-limited reader with the underlying
// file's closer.
type limitedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (lrc *limitedReadCloser) Close() error {
	return lrc.closer.Close()
}
