package backend

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/coldfront/coldfront/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Registry Tests
// ============================================================================

func TestRegister_CustomType(t *testing.T) {
	t.Parallel()

	customType := types.StoreType("test-custom")

	Register(customType, func(cfg types.StoreConfig) (types.TierStore, error) {
		return NewMemoryStore(), nil
	})

	store, err := New(types.StoreConfig{Type: customType})
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	assert.Equal(t, types.StoreTypeMemory, store.Type())
}

func TestNew_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := New(types.StoreConfig{Type: "unknown-type"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store type")
}

func TestNew_MemoryType(t *testing.T) {
	t.Parallel()

	store, err := New(types.StoreConfig{Type: types.StoreTypeMemory})
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	assert.Equal(t, types.StoreTypeMemory, store.Type())
}

func TestNew_FSType_NoPath(t *testing.T) {
	t.Parallel()

	_, err := New(types.StoreConfig{Type: types.StoreTypeFS})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

// ============================================================================
// Manager Tests
// ============================================================================

func TestManager_AddGetRemove(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	defer mgr.Close()

	err := mgr.Add("cache", types.StoreConfig{Type: types.StoreTypeMemory})
	require.NoError(t, err)

	store, ok := mgr.Get("cache")
	require.True(t, ok)
	assert.Equal(t, types.StoreTypeMemory, store.Type())

	err = mgr.Remove("cache")
	require.NoError(t, err)

	_, ok = mgr.Get("cache")
	assert.False(t, ok)
}

func TestManager_Add_ReplacesExisting(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	defer mgr.Close()
	ctx := context.Background()

	err := mgr.Add("cache", types.StoreConfig{Type: types.StoreTypeMemory})
	require.NoError(t, err)

	store1, ok := mgr.Get("cache")
	require.True(t, ok)
	err = store1.Write(ctx, "bkt", "obj", strings.NewReader("data1"), 5)
	require.NoError(t, err)

	err = mgr.Add("cache", types.StoreConfig{Type: types.StoreTypeMemory})
	require.NoError(t, err)

	store2, ok := mgr.Get("cache")
	require.True(t, ok)
	exists, err := store2.Exists(ctx, "bkt", "obj")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestManager_Add_UnknownType(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	defer mgr.Close()

	err := mgr.Add("bad", types.StoreConfig{Type: "invalid"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store type")
}

func TestManager_List(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	defer mgr.Close()

	for _, id := range []string{"cache", "amazon", "gcp"} {
		err := mgr.Add(id, types.StoreConfig{Type: types.StoreTypeMemory})
		require.NoError(t, err)
	}

	ids := mgr.List()
	assert.Len(t, ids, 3)
	assert.Contains(t, ids, "cache")
	assert.Contains(t, ids, "amazon")
	assert.Contains(t, ids, "gcp")
}

func TestManager_Close(t *testing.T) {
	t.Parallel()

	mgr := NewManager()

	err := mgr.Add("cache", types.StoreConfig{Type: types.StoreTypeMemory})
	require.NoError(t, err)

	err = mgr.Close()
	require.NoError(t, err)
	assert.Empty(t, mgr.List())
}

// ============================================================================
// MemoryStore Tests
// ============================================================================

func TestMemoryStore_WriteRead(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	testData := []byte("hello world")

	err := ms.Write(ctx, "bkt", "obj", bytes.NewReader(testData), int64(len(testData)))
	require.NoError(t, err)

	reader, err := ms.Read(ctx, "bkt", "obj")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, testData, data)
}

func TestMemoryStore_Read_NotFound(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	err := ms.Write(ctx, "bkt", "obj", strings.NewReader("x"), 1)
	require.NoError(t, err)

	_, err = ms.Read(ctx, "bkt", "nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ms.Read(ctx, "no-bucket", "obj")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBucketNotFound)
}

func TestMemoryStore_Write_SizeMismatch(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	defer ms.Close()

	err := ms.Write(context.Background(), "bkt", "obj", strings.NewReader("abc"), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size mismatch")
}

func TestMemoryStore_ReadRange(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	testData := []byte("0123456789")
	err := ms.Write(ctx, "bkt", "obj", bytes.NewReader(testData), int64(len(testData)))
	require.NoError(t, err)

	reader, err := ms.ReadRange(ctx, "bkt", "obj", 3, 4)
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("3456"), data)
}

func TestMemoryStore_ReadRange_PastEnd(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	err := ms.Write(ctx, "bkt", "obj", strings.NewReader("short"), 5)
	require.NoError(t, err)

	// Length past end is clamped to what's available.
	reader, err := ms.ReadRange(ctx, "bkt", "obj", 3, 100)
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("rt"), data)
}

func TestMemoryStore_Head_ReportsMD5AndVersion(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	payload := []byte("versioned payload")
	sum := md5.Sum(payload)

	err := ms.Write(ctx, "bkt", "obj", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)

	attrs, err := ms.Head(ctx, "bkt", "obj")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), attrs.Size)
	assert.Equal(t, "md5", attrs.Cksum.Type)
	assert.Equal(t, hex.EncodeToString(sum[:]), attrs.Cksum.Value)
	assert.Equal(t, "1", attrs.Version)

	// Overwrite bumps the version.
	err = ms.Write(ctx, "bkt", "obj", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)

	attrs, err = ms.Head(ctx, "bkt", "obj")
	require.NoError(t, err)
	assert.Equal(t, "2", attrs.Version)
}

func TestMemoryStore_DeleteAndBuckets(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	ms.CreateBucket("empty")
	exists, err := ms.BucketExists(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = ms.BucketExists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, exists)

	err = ms.Write(ctx, "bkt", "obj", strings.NewReader("data"), 4)
	require.NoError(t, err)

	err = ms.Delete(ctx, "bkt", "obj")
	require.NoError(t, err)

	exists, err = ms.Exists(ctx, "bkt", "obj")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting again should not error.
	err = ms.Delete(ctx, "bkt", "obj")
	assert.NoError(t, err)

	err = ms.RemoveBucket(ctx, "bkt")
	require.NoError(t, err)
	exists, err = ms.BucketExists(ctx, "bkt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_ListPage(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	for _, name := range []string{"a/1", "a/2", "a/3", "b/1", "b/2"} {
		err := ms.Write(ctx, "bkt", name, strings.NewReader(name), int64(len(name)))
		require.NoError(t, err)
	}

	// Full listing is sorted.
	page, err := ms.ListPage(ctx, "bkt", types.ListPageOpts{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 5)
	assert.Equal(t, "a/1", page.Entries[0].Name)
	assert.Equal(t, "b/2", page.Entries[4].Name)
	assert.Empty(t, page.NextMarker)

	// Prefix narrows the listing.
	page, err = ms.ListPage(ctx, "bkt", types.ListPageOpts{Prefix: "b/"})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "b/1", page.Entries[0].Name)

	// Limit produces a marker; the marker resumes after itself.
	page, err = ms.ListPage(ctx, "bkt", types.ListPageOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "a/2", page.NextMarker)

	page, err = ms.ListPage(ctx, "bkt", types.ListPageOpts{Marker: page.NextMarker, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "a/3", page.Entries[0].Name)
	assert.Equal(t, "b/1", page.Entries[1].Name)

	_, err = ms.ListPage(ctx, "missing", types.ListPageOpts{})
	assert.ErrorIs(t, err, ErrBucketNotFound)
}

func TestMemoryStore_Usage(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	err := ms.Write(ctx, "b1", "o1", strings.NewReader("12345"), 5)
	require.NoError(t, err)
	err = ms.Write(ctx, "b2", "o2", strings.NewReader("1234567"), 7)
	require.NoError(t, err)

	used, err := ms.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), used)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			object := "obj-" + string(rune('a'+id%26))
			data := strings.Repeat("x", id+1)
			_ = ms.Write(ctx, "bkt", object, strings.NewReader(data), int64(len(data)))
		}(i)
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			reader, err := ms.Read(ctx, "bkt", "obj-"+string(rune('a'+id%26)))
			if err == nil {
				reader.Close()
			}
		}(i)
	}
	wg.Wait()
}

// ============================================================================
// FSStore Tests
// ============================================================================

func TestFSStore_NoPath(t *testing.T) {
	t.Parallel()

	_, err := NewFSStore("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestFSStore_WriteRead(t *testing.T) {
	t.Parallel()

	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	testData := []byte("hello fs store")

	err = store.Write(ctx, "bkt", "test-object", bytes.NewReader(testData), int64(len(testData)))
	require.NoError(t, err)

	reader, err := store.Read(ctx, "bkt", "test-object")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, testData, data)
}

func TestFSStore_NestedObjectNames(t *testing.T) {
	t.Parallel()

	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	testData := []byte("nested data")

	err = store.Write(ctx, "bkt", "a/b/c/nested", bytes.NewReader(testData), int64(len(testData)))
	require.NoError(t, err)

	reader, err := store.Read(ctx, "bkt", "a/b/c/nested")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, testData, data)
}

func TestFSStore_PathEscapeRejected(t *testing.T) {
	t.Parallel()

	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	err = store.Write(context.Background(), "bkt", "../../etc/passwd", strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes bucket")
}

func TestFSStore_Read_NotFound(t *testing.T) {
	t.Parallel()

	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Read(context.Background(), "bkt", "nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_ReadRange(t *testing.T) {
	t.Parallel()

	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	testData := []byte("0123456789ABCDEF")
	err = store.Write(ctx, "bkt", "range-test", bytes.NewReader(testData), int64(len(testData)))
	require.NoError(t, err)

	reader, err := store.ReadRange(ctx, "bkt", "range-test", 4, 8)
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("456789AB"), data)

	// Negative length reads to end.
	reader, err = store.ReadRange(ctx, "bkt", "range-test", 10, -1)
	require.NoError(t, err)
	defer reader.Close()

	data, err = io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABCDEF"), data)
}

func TestFSStore_WriteIsAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFSStore(dir)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	err = store.Write(ctx, "bkt", "obj", strings.NewReader("final"), 5)
	require.NoError(t, err)

	// No work files left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "bkt"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "obj", entries[0].Name())
}

func TestFSStore_Write_SizeMismatchCleansUp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFSStore(dir)
	require.NoError(t, err)
	defer store.Close()

	err = store.Write(context.Background(), "bkt", "obj", strings.NewReader("abc"), 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size mismatch")

	entries, err := os.ReadDir(filepath.Join(dir, "bkt"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFSStore_DeleteExistsHead(t *testing.T) {
	t.Parallel()

	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	err = store.Write(ctx, "bkt", "obj", strings.NewReader("hello world"), 11)
	require.NoError(t, err)

	attrs, err := store.Head(ctx, "bkt", "obj")
	require.NoError(t, err)
	assert.Equal(t, int64(11), attrs.Size)
	assert.False(t, attrs.Cksum.IsSet())

	exists, err := store.Exists(ctx, "bkt", "obj")
	require.NoError(t, err)
	assert.True(t, exists)

	err = store.Delete(ctx, "bkt", "obj")
	require.NoError(t, err)

	exists, err = store.Exists(ctx, "bkt", "obj")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting again should not error.
	err = store.Delete(ctx, "bkt", "obj")
	assert.NoError(t, err)
}

func TestFSStore_ListPage(t *testing.T) {
	t.Parallel()

	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	for _, name := range []string{"x/1", "x/2", "y/1"} {
		err := store.Write(ctx, "bkt", name, strings.NewReader(name), int64(len(name)))
		require.NoError(t, err)
	}

	page, err := store.ListPage(ctx, "bkt", types.ListPageOpts{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, "x/1", page.Entries[0].Name)
	assert.Equal(t, int64(3), page.Entries[0].Size)

	page, err = store.ListPage(ctx, "bkt", types.ListPageOpts{Prefix: "x/", Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "x/1", page.NextMarker)

	_, err = store.ListPage(ctx, "missing", types.ListPageOpts{})
	assert.ErrorIs(t, err, ErrBucketNotFound)
}

func TestFSStore_RemoveBucketAndUsage(t *testing.T) {
	t.Parallel()

	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	err = store.Write(ctx, "bkt", "obj1", strings.NewReader("12345"), 5)
	require.NoError(t, err)
	err = store.Write(ctx, "bkt", "obj2", strings.NewReader("1234567"), 7)
	require.NoError(t, err)

	used, err := store.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), used)

	exists, err := store.BucketExists(ctx, "bkt")
	require.NoError(t, err)
	assert.True(t, exists)

	err = store.RemoveBucket(ctx, "bkt")
	require.NoError(t, err)

	exists, err = store.BucketExists(ctx, "bkt")
	require.NoError(t, err)
	assert.False(t, exists)

	used, err = store.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), used)
}

func TestFSStore_DiskStats(t *testing.T) {
	t.Parallel()

	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	stats, err := store.DiskStats()
	require.NoError(t, err)
	assert.Greater(t, stats.TotalBytes, uint64(0))
	assert.LessOrEqual(t, stats.UsedBytes, stats.TotalBytes)
}

// ============================================================================
// NextTierStore Tests
// ============================================================================

func TestNextTierStore_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewNextTierStore("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")

	_, err = NewNextTierStore("ftp://tier.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme must be http or https")
}

func TestNextTierStore_RoundTrip(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	objects := make(map[string][]byte)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet, http.MethodHead:
			data, ok := objects[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set(HdrObjectVersion, "7")
			w.Header().Set(HdrChecksumType, "xxhash")
			w.Header().Set(HdrChecksumValue, "deadbeef")
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			if r.Method == http.MethodGet {
				w.Write(data)
			}
		case http.MethodDelete:
			delete(objects, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	store, err := NewNextTierStore(srv.URL)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	err = store.Write(ctx, "bkt", "obj", strings.NewReader("tiered data"), 11)
	require.NoError(t, err)

	reader, err := store.Read(ctx, "bkt", "obj")
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	reader.Close()
	require.NoError(t, err)
	assert.Equal(t, "tiered data", string(data))

	attrs, err := store.Head(ctx, "bkt", "obj")
	require.NoError(t, err)
	assert.Equal(t, int64(11), attrs.Size)
	assert.Equal(t, "7", attrs.Version)
	assert.Equal(t, types.Cksum{Type: "xxhash", Value: "deadbeef"}, attrs.Cksum)

	exists, err := store.Exists(ctx, "bkt", "obj")
	require.NoError(t, err)
	assert.True(t, exists)

	err = store.Delete(ctx, "bkt", "obj")
	require.NoError(t, err)

	_, err = store.Read(ctx, "bkt", "obj")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err = store.Exists(ctx, "bkt", "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNextTierStore_ListUnsupported(t *testing.T) {
	t.Parallel()

	store, err := NewNextTierStore("http://tier.example.com")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.ListPage(context.Background(), "bkt", types.ListPageOpts{})
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestEscapeObject(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a/b/c", escapeObject("a/b/c"))
	assert.Equal(t, "a%20b/c%3Fd", escapeObject("a b/c?d"))
}

func TestEtagMD5(t *testing.T) {
	t.Parallel()

	md5hex, ok := etagMD5(`"d41d8cd98f00b204e9800998ecf8427e"`)
	assert.True(t, ok)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", md5hex)

	_, ok = etagMD5(`"d41d8cd98f00b204e9800998ecf8427e-3"`)
	assert.False(t, ok)

	_, ok = etagMD5(`"short"`)
	assert.False(t, ok)
}
