package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/eventbus"
	"github.com/tthsd/tthsd/internal/httpclient"
)

func rangeCapableServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			return
		}
		http.ServeContent(w, r, "f.bin", time.Time{}, strings.NewReader(body))
	}))
}

type collectingCallback struct {
	mu     sync.Mutex
	events []eventbus.Type
}

func (c *collectingCallback) cb(eventJSON, dataJSON string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, typ := range []eventbus.Type{eventbus.TypeStart, eventbus.TypeStartOne, eventbus.TypeUpdate, eventbus.TypeEndOne, eventbus.TypeEnd, eventbus.TypeMsg, eventbus.TypeErr} {
		if strings.Contains(eventJSON, `"Type":"`+string(typ)+`"`) {
			c.events = append(c.events, typ)
			return
		}
	}
}

func (c *collectingCallback) has(typ eventbus.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == typ {
			return true
		}
	}
	return false
}

func TestFileTask_DownloadsSmallFileEndToEnd(t *testing.T) {
	body := strings.Repeat("x", 256*1024)
	srv := rangeCapableServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	savePath := filepath.Join(dir, "out.bin")

	collector := &collectingCallback{}
	bus := eventbus.New("out.bin", "out.bin", "1", collector.cb, nil)

	client := httpclient.New(4, "tthsd-test")
	cfg := &types.RuntimeConfig{WorkerCount: 4}
	task := newFileTask(types.TaskDescriptor{URL: srv.URL, SavePath: savePath, ShowName: "out.bin", ID: "1"}, cfg, client, bus)

	err := task.run(context.Background(), 4, 1, 1)
	require.NoError(t, err)
	bus.Close()

	data, err := os.ReadFile(savePath)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	assert.True(t, collector.has(eventbus.TypeStartOne))
	assert.True(t, collector.has(eventbus.TypeEndOne))
	assert.Equal(t, types.StateDone, task.getState())
}

func TestFileTask_PauseThenResume(t *testing.T) {
	body := strings.Repeat("y", 2*1024*1024)
	srv := rangeCapableServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	savePath := filepath.Join(dir, "out.bin")

	bus := eventbus.New("out.bin", "out.bin", "1", func(string, string) {}, nil)
	client := httpclient.New(4, "tthsd-test")
	cfg := &types.RuntimeConfig{WorkerCount: 4}
	task := newFileTask(types.TaskDescriptor{URL: srv.URL, SavePath: savePath, ShowName: "out.bin", ID: "1"}, cfg, client, bus)

	done := make(chan error, 1)
	go func() { done <- task.run(context.Background(), 4, 1, 1) }()

	time.Sleep(20 * time.Millisecond)
	rc := task.pause()
	assert.Equal(t, 0, rc)
	assert.Equal(t, types.StatePaused, task.getState())

	rc = task.resume()
	assert.Equal(t, 0, rc)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not complete after resume")
	}
	bus.Close()

	data, err := os.ReadFile(savePath)
	require.NoError(t, err)
	assert.Equal(t, len(body), len(data))
}

func TestFileTask_StopIsTerminal(t *testing.T) {
	body := strings.Repeat("z", 4*1024*1024)
	srv := rangeCapableServer(t, body)
	defer srv.Close()

	dir := t.TempDir()
	savePath := filepath.Join(dir, "out.bin")

	bus := eventbus.New("out.bin", "out.bin", "1", func(string, string) {}, nil)
	client := httpclient.New(4, "tthsd-test")
	cfg := &types.RuntimeConfig{WorkerCount: 4}
	task := newFileTask(types.TaskDescriptor{URL: srv.URL, SavePath: savePath, ShowName: "out.bin", ID: "1"}, cfg, client, bus)

	done := make(chan error, 1)
	go func() { done <- task.run(context.Background(), 4, 1, 1) }()

	time.Sleep(10 * time.Millisecond)
	rc := task.stop()
	assert.Equal(t, 0, rc)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("download did not stop in time")
	}
	bus.Close()
	assert.Equal(t, types.StateStopped, task.getState())

	_, err := os.Stat(savePath + types.IncompleteSuffix)
	assert.NoError(t, err)
}
