package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settle = 50 * time.Millisecond

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(root, settle, nil)
	require.NoError(t, err)
	w.Start()
	<-w.Ready()
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// collect gathers delivered paths until nothing new arrives for quiet.
func collect(w *Watcher, quiet time.Duration) map[string]int {
	got := make(map[string]int)
	for {
		select {
		case p := <-w.Paths():
			got[p]++
		case <-time.After(quiet):
			return got
		}
	}
}

func TestWatcherDeliversSettledFile(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	path := filepath.Join(root, "scan.dcm")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.Write([]byte("chunk"))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	got := collect(w, 10*settle)
	assert.Equal(t, map[string]int{path: 1}, got, "writes are coalesced into one delivery")
}

func TestWatcherNewDirectory(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	dir := filepath.Join(root, "study")
	require.NoError(t, os.Mkdir(dir, 0o755))
	got := collect(w, 10*settle)
	assert.Empty(t, got, "directories themselves are not delivered")

	// Files created later inside the new directory are seen.
	inner := filepath.Join(dir, "img.dcm")
	require.NoError(t, os.WriteFile(inner, []byte("x"), 0o644))
	got = collect(w, 10*settle)
	assert.Equal(t, map[string]int{inner: 1}, got)
}

func TestWatcherDirectoryMovedIn(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	staging := filepath.Join(t.TempDir(), "study")
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "series"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "a.dcm"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "series", "b.dcm"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, ".DS_Store"), []byte("m"), 0o644))

	dir := filepath.Join(root, "study")
	require.NoError(t, os.Rename(staging, dir))

	got := collect(w, 10*settle)
	assert.Equal(t, map[string]int{
		filepath.Join(dir, "a.dcm"):           1,
		filepath.Join(dir, "series", "b.dcm"): 1,
	}, got)
}

// A file filled slowly inside a just-created directory is delivered once,
// after its last write.
func TestWatcherSlowWriteInNewDirectory(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	dir := filepath.Join(root, "study")
	require.NoError(t, os.Mkdir(dir, 0o755))
	path := filepath.Join(dir, "big.bin")
	f, err := os.Create(path)
	require.NoError(t, err)

	chunk := make([]byte, 4096)
	for i := 0; i < 10; i++ {
		_, err := f.Write(chunk)
		require.NoError(t, err)
		time.Sleep(settle / 2)
		select {
		case p := <-w.Paths():
			t.Fatalf("%s delivered while still being written", p)
		default:
		}
	}
	require.NoError(t, f.Close())

	got := collect(w, 10*settle)
	assert.Equal(t, map[string]int{path: 1}, got)
}

func TestWatcherIgnoresMetadata(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".DS_Store"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "._scan.dcm"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "__MACOSX"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.dcm"), []byte("x"), 0o644))

	got := collect(w, 10*settle)
	assert.Equal(t, map[string]int{filepath.Join(root, "real.dcm"): 1}, got)
}

func TestWatcherRootRemovedIsFatal(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "inbound")
	require.NoError(t, os.Mkdir(root, 0o755))
	w := startWatcher(t, root)

	require.NoError(t, os.RemoveAll(root))

	select {
	case err := <-w.Fatal():
		assert.ErrorIs(t, err, ErrRootRemoved)
	case <-time.After(5 * time.Second):
		t.Fatal("root removal was not reported")
	}
}

func TestWatcherMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), settle, nil)
	assert.Error(t, err)
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), settle, nil)
	require.NoError(t, err)
	w.Start()
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
