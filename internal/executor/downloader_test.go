package executor

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/eventbus"
	"github.com/tthsd/tthsd/internal/registry"
)

func TestSplitWorkerBudget_FloorDivisionWithRemainderToFirst(t *testing.T) {
	assert.Equal(t, []int{3, 3, 2}, splitWorkerBudget(8, 3))
	assert.Equal(t, []int{2, 2, 2, 2}, splitWorkerBudget(8, 4))
	assert.Equal(t, []int{1, 1, 1}, splitWorkerBudget(1, 3))
}

func TestDownloader_ParallelBatchCompletesAllFiles(t *testing.T) {
	bodies := []string{strings.Repeat("a", 64*1024), strings.Repeat("b", 64*1024)}
	var servers []*httptest.Server
	var descriptors []types.TaskDescriptor
	dir := t.TempDir()

	for i, body := range bodies {
		b := body
		srv := rangeCapableServer(t, b)
		servers = append(servers, srv)
		descriptors = append(descriptors, types.TaskDescriptor{
			URL:      srv.URL,
			SavePath: filepath.Join(dir, "file"+string(rune('a'+i))+".bin"),
			ShowName: "f",
			ID:       "1",
		})
	}
	defer func() {
		for _, s := range servers {
			s.Close()
		}
	}()

	bus := eventbus.New("batch", "batch", "1", func(string, string) {}, nil)
	cfg := &types.RuntimeConfig{WorkerCount: 4}
	d := New(1, descriptors, cfg, bus)

	doneC := make(chan struct{})
	d.StartParallel(context.Background(), func(r *registry.Registry, id int64) {})
	go func() {
		d.doneWG.Wait()
		close(doneC)
	}()

	select {
	case <-doneC:
	case <-time.After(10 * time.Second):
		t.Fatal("parallel batch did not complete")
	}

	for i, desc := range descriptors {
		data, err := os.ReadFile(desc.SavePath)
		require.NoError(t, err)
		assert.Equal(t, bodies[i], string(data))
	}
	assert.Equal(t, types.StateDone, d.State())
}
