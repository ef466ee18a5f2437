package observer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vigil/pkg/observer"
	"vigil/pkg/protocol"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startObserver(t *testing.T, root string, ignore []string) (<-chan protocol.Observation, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	o := observer.New(observer.Config{Base: root, Debounce: 50 * time.Millisecond, VCSPollInterval: -1}, nil, zaptest.NewLogger(t))
	ch, err := o.Start(ctx, []string{root}, ignore)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		for range ch {
		}
	})
	return ch, cancel
}

// next waits for one observation or fails.
func next(t *testing.T, ch <-chan protocol.Observation) protocol.Observation {
	t.Helper()
	select {
	case obs, ok := <-ch:
		require.True(t, ok, "stream closed")
		return obs
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for observation")
		return protocol.Observation{}
	}
}

// quiet asserts nothing arrives for d.
func quiet(t *testing.T, ch <-chan protocol.Observation, d time.Duration) {
	t.Helper()
	select {
	case obs := <-ch:
		t.Fatalf("unexpected observation %s %s", obs.Kind, obs.Path)
	case <-time.After(d):
	}
}

func TestObserver_CreateAndEditCoalesce(t *testing.T) {
	root := t.TempDir()
	ch, _ := startObserver(t, root, nil)

	p := filepath.Join(root, "a.md")
	require.NoError(t, os.WriteFile(p, []byte("one"), 0o600))
	require.NoError(t, os.WriteFile(p, []byte("one two"), 0o600))

	obs := next(t, ch)
	assert.Equal(t, "a.md", obs.Path)
	assert.Equal(t, protocol.KindCreated, obs.Kind)
	assert.Equal(t, protocol.SourceFilesystem, obs.Source)
	quiet(t, ch, 200*time.Millisecond)
}

func TestObserver_NewSubdirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	ch, _ := startObserver(t, root, nil)

	sub := filepath.Join(root, "notes", "2026")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	// Let the new directory watch land before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.md"), []byte("x"), 0o600))

	obs := next(t, ch)
	assert.Equal(t, "notes/2026/b.md", obs.Path)
	assert.Equal(t, protocol.KindCreated, obs.Kind)
}

func TestObserver_IgnorePatterns(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "drafts"), 0o755))
	ch, _ := startObserver(t, root, []string{"drafts/**", "*.swp", "**/*.swp"})

	require.NoError(t, os.WriteFile(filepath.Join(root, "drafts", "wip.md"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".a.md.swp"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.md"), []byte("x"), 0o600))

	obs := next(t, ch)
	assert.Equal(t, "kept.md", obs.Path)
	quiet(t, ch, 200*time.Millisecond)
}

func TestObserver_Delete(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "old.md")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	ch, _ := startObserver(t, root, nil)

	require.NoError(t, os.Remove(p))
	obs := next(t, ch)
	assert.Equal(t, "old.md", obs.Path)
	assert.Equal(t, protocol.KindDeleted, obs.Kind)
}

func TestObserver_ClosesOnCancel(t *testing.T) {
	root := t.TempDir()
	ch, cancel := startObserver(t, root, nil)
	cancel()

	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestStart_Errors(t *testing.T) {
	o := observer.New(observer.Config{}, nil, nil)
	ctx := context.Background()

	_, err := o.Start(ctx, nil, nil)
	assert.Error(t, err)

	_, err = o.Start(ctx, []string{filepath.Join(t.TempDir(), "missing")}, nil)
	assert.Error(t, err)

	_, err = o.Start(ctx, []string{t.TempDir()}, []string{"[bad"})
	assert.Error(t, err)

	// A malformed class after a literal prefix is still rejected.
	_, err = o.Start(ctx, []string{t.TempDir()}, []string{"drafts/[bad"})
	assert.ErrorIs(t, err, doublestar.ErrBadPattern)
}
