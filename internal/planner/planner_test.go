package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/httpclient"
	"github.com/tthsd/tthsd/internal/manifest"
)

func TestPlan_UnknownSize(t *testing.T) {
	ranges := Plan(httpclient.HeadResult{TotalSize: -1, AcceptsRanges: false}, nil, 8)
	require.Len(t, ranges, 1)
	assert.Equal(t, int64(0), ranges[0].Start)
	assert.Equal(t, int64(-1), ranges[0].End)
}

func TestPlan_KnownSizeNoRangeSupport(t *testing.T) {
	ranges := Plan(httpclient.HeadResult{TotalSize: 5000, AcceptsRanges: false}, nil, 8)
	require.Len(t, ranges, 1)
	assert.Equal(t, int64(0), ranges[0].Start)
	assert.Equal(t, int64(5000), ranges[0].End)
}

func TestPlan_KnownSizeRangeCapable_SplitsAcrossWorkers(t *testing.T) {
	ranges := Plan(httpclient.HeadResult{TotalSize: 100 * types.MB, AcceptsRanges: true}, nil, 4)
	require.True(t, len(ranges) >= 4)

	var covered int64
	for i, r := range ranges {
		assert.Equal(t, i, r.Index)
		assert.True(t, r.End > r.Start)
		covered += r.Length()
	}
	assert.Equal(t, int64(100*types.MB), covered)
}

func TestPlan_ChunkSizeClampedToBounds(t *testing.T) {
	// 1 worker over a huge file should clamp to MaxChunkSize, not one giant range.
	ranges := Plan(httpclient.HeadResult{TotalSize: 10 * types.GB, AcceptsRanges: true}, nil, 1)
	for _, r := range ranges {
		assert.LessOrEqual(t, r.Length(), types.MaxChunk)
	}
}

func TestResolve_NoExistingManifest(t *testing.T) {
	result := Resolve("http://x/f.bin", httpclient.HeadResult{TotalSize: 1000, AcceptsRanges: true, ETag: `"v1"`}, nil, 4, nil)
	assert.False(t, result.Resumed)
	assert.NotNil(t, result.Manifest)
	assert.True(t, len(result.Ranges) > 0)
}

func TestResolve_ReusesMatchingManifest(t *testing.T) {
	head := httpclient.HeadResult{TotalSize: 1000, AcceptsRanges: true, ETag: `"v1"`}
	fresh := Plan(head, nil, 4)
	m := manifest.New("http://x/f.bin", 1000, fresh[0].Length(), `"v1"`, len(fresh))
	m.MarkDone(0)

	result := Resolve("http://x/f.bin", head, nil, 4, m)
	assert.True(t, result.Resumed)
	for _, r := range result.Ranges {
		assert.NotEqual(t, 0, r.Index)
	}
}

func TestResolve_DiscardsOnETagMismatch(t *testing.T) {
	head := httpclient.HeadResult{TotalSize: 1000, AcceptsRanges: true, ETag: `"v2"`}
	fresh := Plan(head, nil, 4)
	m := manifest.New("http://x/f.bin", 1000, fresh[0].Length(), `"v1"`, len(fresh))
	m.MarkDone(0)

	result := Resolve("http://x/f.bin", head, nil, 4, m)
	assert.False(t, result.Resumed)
	assert.Equal(t, len(fresh), len(result.Ranges))
}
