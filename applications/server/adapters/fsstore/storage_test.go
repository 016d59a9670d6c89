package fsstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/go-kit/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donmikel/fileupload/applications/server/domain"
	"github.com/donmikel/fileupload/applications/server/layout"
)

const root = "/uploads"

func newTestStorage(t *testing.T, userDirs bool) (*storage, afero.Fs) {
	t.Helper()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll(root, 0o755))

	l := layout.New(root, "/files/", userDirs, domain.Versions{
		"":          {AutoOrient: true},
		"thumbnail": {MaxWidth: 80, MaxHeight: 80},
	})

	return NewStorage(fsys, l, 0o755, log.NewNopLogger()).(*storage), fsys
}

func TestUpcountName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a.txt", "a (1).txt"},
		{"a (1).txt", "a (2).txt"},
		{"a (9).txt", "a (10).txt"},
		{"archive.tar.gz", "archive.tar (1).gz"},
		{"README", "README (1)"},
		{"a (1)", "a (1) (1)"},
		{"photo (3).JPG", "photo (4).JPG"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, UpcountName(tt.in))
		})
	}
}

func TestResolveSkipsExistingNames(t *testing.T) {
	s, fsys := newTestStorage(t, false)
	ctx := context.Background()

	const n = 5
	require.NoError(t, afero.WriteFile(fsys, root+"/a.txt", []byte("x"), 0o644))
	for i := 1; i < n; i++ {
		require.NoError(t, afero.WriteFile(fsys, fmt.Sprintf("%s/a (%d).txt", root, i), []byte("x"), 0o644))
	}

	res, err := s.Resolve(ctx, "", "a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Resolution{Name: fmt.Sprintf("a (%d).txt", n)}, res)
}

func TestResolveDirectoryCollision(t *testing.T) {
	s, fsys := newTestStorage(t, false)
	require.NoError(t, fsys.MkdirAll(root+"/photo.jpg", 0o755))

	res, err := s.Resolve(context.Background(), "", "photo.jpg", &domain.ByteRange{Start: 0, End: 9, Total: 10})
	require.NoError(t, err)
	assert.Equal(t, "photo (1).jpg", res.Name)
	assert.False(t, res.Continuation)
}

func TestResolveContinuation(t *testing.T) {
	s, fsys := newTestStorage(t, false)
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(fsys, root+"/big.bin", make([]byte, 50), 0o644))

	res, err := s.Resolve(ctx, "", "big.bin", &domain.ByteRange{Start: 50, End: 99, Total: 100})
	require.NoError(t, err)
	assert.Equal(t, domain.Resolution{Name: "big.bin", Continuation: true}, res)

	res, err = s.Resolve(ctx, "", "big.bin", &domain.ByteRange{Start: 40, End: 99, Total: 100})
	require.NoError(t, err)
	assert.Equal(t, domain.Resolution{Name: "big (1).bin"}, res)

	res, err = s.Resolve(ctx, "", "big.bin", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Resolution{Name: "big (1).bin"}, res)
}

func TestResolveRejectsInvalidNamespace(t *testing.T) {
	s, _ := newTestStorage(t, true)

	_, err := s.Resolve(context.Background(), "../other", "a.txt", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestWriteResumable(t *testing.T) {
	s, fsys := newTestStorage(t, false)
	ctx := context.Background()
	payload := bytes.Repeat([]byte("0123456789"), 10)

	first := &domain.ByteRange{Start: 0, End: 49, Total: 100}
	res, err := s.Resolve(ctx, "", "data.bin", first)
	require.NoError(t, err)
	size, err := s.Write(ctx, domain.WriteRequest{
		Name: res.Name, Body: bytes.NewReader(payload[:50]), Total: 100, Ranged: true, Continuation: res.Continuation,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(50), size)

	second := &domain.ByteRange{Start: 50, End: 99, Total: 100}
	res, err = s.Resolve(ctx, "", "data.bin", second)
	require.NoError(t, err)
	require.True(t, res.Continuation)
	size, err = s.Write(ctx, domain.WriteRequest{
		Name: res.Name, Body: bytes.NewReader(payload[50:]), Total: 100, Ranged: true, Continuation: res.Continuation,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), size)

	got, err := afero.ReadFile(fsys, root+"/data.bin")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	infos, err := afero.ReadDir(fsys, root)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestWriteContinuationOverwritesWhenComplete(t *testing.T) {
	s, fsys := newTestStorage(t, false)
	require.NoError(t, afero.WriteFile(fsys, root+"/a.bin", []byte("0123456789"), 0o644))

	size, err := s.Write(context.Background(), domain.WriteRequest{
		Name: "a.bin", Body: strings.NewReader("abc"), Total: 10, Ranged: true, Continuation: true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), size)
}

func TestWriteFreshClaimsName(t *testing.T) {
	s, fsys := newTestStorage(t, false)
	require.NoError(t, afero.WriteFile(fsys, root+"/taken.txt", []byte("keep"), 0o644))

	_, err := s.Write(context.Background(), domain.WriteRequest{
		Name: "taken.txt", Body: strings.NewReader("overwrite"), Total: 9,
	})
	assert.ErrorIs(t, err, domain.ErrNameTaken)

	got, err := afero.ReadFile(fsys, root+"/taken.txt")
	require.NoError(t, err)
	assert.Equal(t, "keep", string(got))
}

func TestWriteConcurrentSameName(t *testing.T) {
	s, _ := newTestStorage(t, false)
	ctx := context.Background()

	const writers = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		taken int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Write(ctx, domain.WriteRequest{Name: "race.txt", Body: strings.NewReader("data"), Total: 4})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrNameTaken):
				taken++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, taken)
}

func TestWriteFailureRemovesFreshFile(t *testing.T) {
	s, fsys := newTestStorage(t, false)

	_, err := s.Write(context.Background(), domain.WriteRequest{
		Name: "broken.txt", Body: failingReader{}, Total: 10,
	})
	require.Error(t, err)

	exists, err := afero.Exists(fsys, root+"/broken.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCount(t *testing.T) {
	s, fsys := newTestStorage(t, true)
	ctx := context.Background()

	n, err := s.Count(ctx, "sess")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, afero.WriteFile(fsys, root+"/sess/a.txt", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, root+"/sess/b.txt", []byte("b"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, root+"/sess/.hidden", []byte("h"), 0o644))
	require.NoError(t, fsys.MkdirAll(root+"/sess/thumbnail", 0o755))

	n, err = s.Count(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStatAndList(t *testing.T) {
	s, fsys := newTestStorage(t, false)
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(fsys, root+"/b.jpg", []byte("bb"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, root+"/thumbnail/b.jpg", []byte("t"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, root+"/a.txt", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, root+"/.secret", []byte("s"), 0o644))

	stored, err := s.Stat(ctx, "", "b.jpg")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.Size)
	assert.Equal(t, []domain.Derivative{{Tag: "thumbnail", Path: root + "/thumbnail/b.jpg", Size: 1}}, stored.Derivatives)

	_, err = s.Stat(ctx, "", ".secret")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	files, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, "b.jpg", files[1].Name)
}

func TestOpen(t *testing.T) {
	s, fsys := newTestStorage(t, false)
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(fsys, root+"/thumbnail/b.jpg", []byte("thumb"), 0o644))

	body, info, err := s.Open(ctx, "", "b.jpg", "thumbnail")
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, int64(5), info.Size())

	_, _, err = s.Open(ctx, "", "b.jpg", "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = s.Open(ctx, "", "../etc/passwd", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemove(t *testing.T) {
	s, fsys := newTestStorage(t, false)
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(fsys, root+"/b.jpg", []byte("bb"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, root+"/thumbnail/b.jpg", []byte("t"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, root+"/.htaccess", []byte("deny"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/etc/passwd", []byte("root"), 0o644))
	require.NoError(t, fsys.MkdirAll(root+"/dir", 0o755))

	require.NoError(t, s.Remove(ctx, "", "b.jpg"))
	for _, p := range []string{root + "/b.jpg", root + "/thumbnail/b.jpg"} {
		exists, err := afero.Exists(fsys, p)
		require.NoError(t, err)
		assert.False(t, exists, p)
	}

	for _, name := range []string{"../../etc/passwd", "..", ".htaccess", "dir", "missing.txt", ""} {
		err := s.Remove(ctx, "", name)
		assert.ErrorIs(t, err, domain.ErrDeletionDenied, name)
	}

	exists, err := afero.Exists(fsys, "/etc/passwd")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDiscard(t *testing.T) {
	s, fsys := newTestStorage(t, false)
	require.NoError(t, afero.WriteFile(fsys, root+"/partial.bin", []byte("half"), 0o644))

	require.NoError(t, s.Discard(context.Background(), "", "partial.bin"))
	require.NoError(t, s.Discard(context.Background(), "", "partial.bin"))

	exists, err := afero.Exists(fsys, root+"/partial.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}
