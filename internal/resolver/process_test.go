package resolver

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test. ProcessWorker tests re-execute the
// test binary with NEWSDIGEST_HELPER_PROCESS=1 and it plays the worker.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("NEWSDIGEST_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("NEWSDIGEST_HELPER_MODE") {
	case "echo":
		renderer := RendererFunc(func(_ context.Context, req Request) (string, error) {
			return "https://publisher.example/from-worker?src=" + req.URL, nil
		})
		if err := ServeWorker(context.Background(), os.Stdin, os.Stdout, renderer, nil); err != nil {
			os.Exit(2)
		}
	case "hang":
		time.Sleep(time.Minute)
	case "garbage":
		fmt.Fprintln(os.Stdout, "Segmentation fault (core dumped)")
	case "crash":
		fmt.Fprintln(os.Stderr, "chrome failed to start")
		os.Exit(3)
	}
	os.Exit(0)
}

func helperWorker(t *testing.T, mode string) *ProcessWorker {
	t.Helper()
	w, err := NewProcessWorker(os.Args[0],
		[]string{"-test.run=^TestHelperProcess$", "--"},
		[]string{"NEWSDIGEST_HELPER_PROCESS=1", "NEWSDIGEST_HELPER_MODE=" + mode},
		nil)
	require.NoError(t, err)
	return w
}

func TestProcessWorker_RoundTrip(t *testing.T) {
	t.Parallel()

	resp, err := helperWorker(t, "echo").Run(context.Background(), Request{URL: wrapped})
	require.NoError(t, err)
	require.Equal(t, "https://publisher.example/from-worker?src="+wrapped, resp.FinalURL)
	require.Empty(t, resp.Error)
}

func TestProcessWorker_KilledAtDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := helperWorker(t, "hang").Run(ctx, Request{URL: wrapped})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestProcessWorker_GarbageOutput(t *testing.T) {
	t.Parallel()

	_, err := helperWorker(t, "garbage").Run(context.Background(), Request{URL: wrapped})
	require.ErrorIs(t, err, ErrWorkerOutput)
}

func TestProcessWorker_CrashIncludesStderr(t *testing.T) {
	t.Parallel()

	_, err := helperWorker(t, "crash").Run(context.Background(), Request{URL: wrapped})
	require.Error(t, err)
	require.Contains(t, err.Error(), "code 3")
	require.Contains(t, err.Error(), "chrome failed to start")
}

func TestEngine_WithProcessWorker(t *testing.T) {
	t.Parallel()

	engine := NewEngine(Config{WorkerTimeout: 300 * time.Millisecond}, helperWorker(t, "hang"), nil, nil)
	require.Equal(t, wrapped, engine.Resolve(context.Background(), wrapped))

	engine = NewEngine(Config{}, helperWorker(t, "echo"), nil, nil)
	require.Equal(t, "https://publisher.example/from-worker?src="+wrapped,
		engine.Resolve(context.Background(), wrapped))
}

func TestNewProcessWorker_DefaultsToSelf(t *testing.T) {
	t.Parallel()

	w, err := NewProcessWorker("", nil, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, w.path)
	require.Equal(t, []string{WorkerCommand}, w.args)
}

func TestSnippetKeepsTail(t *testing.T) {
	t.Parallel()

	long := make([]byte, maxStderrSnippet+10)
	for i := range long {
		long[i] = 'a'
	}
	long[len(long)-1] = 'z'
	got := snippet(string(long))
	require.Len(t, got, maxStderrSnippet)
	require.Equal(t, byte('z'), got[len(got)-1])
}

func TestProcessWorker_Check(t *testing.T) {
	t.Parallel()

	require.NoError(t, helperWorker(t, "echo").Check())

	missing, err := NewProcessWorker(t.TempDir()+"/nope", nil, nil, nil)
	require.NoError(t, err)
	require.Error(t, missing.Check())

	dir, err := NewProcessWorker(t.TempDir(), nil, nil, nil)
	require.NoError(t, err)
	require.ErrorContains(t, dir.Check(), "not executable")
}
