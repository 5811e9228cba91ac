package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWatcher_SignalsOnJSONLWrites(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher([]string{root, filepath.Join(root, "missing")}, 20*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "s.jsonl"), []byte("{}\n"), 0o600))

	select {
	case <-w.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("no change signal for a .jsonl write")
	}

	sub := filepath.Join(root, "proj")
	require.NoError(t, os.Mkdir(sub, 0o750))
	// Give the watcher a moment to register the new directory.
	require.Eventually(t, func() bool {
		select {
		case <-w.Events():
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "nested.jsonl"), []byte("{}\n"), 0o600))
	select {
	case <-w.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("no change signal for a nested .jsonl write")
	}
}
