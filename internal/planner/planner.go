// Package planner implements spec §4.B: turning a probed resource into an
// ordered list of byte ranges for the executor's worker pool to fetch, and
// reconciling that plan against an existing resume manifest when one
// exists. The planner is static — ranges are decided once up front and
// never re-split or re-balanced while a download runs.
package planner

import (
	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/httpclient"
	"github.com/tthsd/tthsd/internal/manifest"
	"github.com/tthsd/tthsd/internal/utils"
)

// Plan decides the chunk layout for a freshly probed resource (spec §4.B):
//   - known size + range support: split into about workerCount chunks of
//     total/workerCount bytes, AlignSize-aligned and clamped to the
//     config's [MinChunkSize, MaxChunkSize].
//   - known size, no range support: one bounded range covering the file.
//   - unknown size (regardless of range support): one unbounded range;
//     size isn't known so it can't be split.
func Plan(head httpclient.HeadResult, cfg *types.RuntimeConfig, workerCount int) []types.Range {
	if head.TotalSize < 0 {
		return []types.Range{{Index: 0, Start: 0, End: -1, State: types.RangePending}}
	}
	if !head.AcceptsRanges {
		return []types.Range{{Index: 0, Start: 0, End: head.TotalSize, State: types.RangePending}}
	}
	return splitKnownSize(head.TotalSize, cfg, workerCount)
}

func splitKnownSize(total int64, cfg *types.RuntimeConfig, workerCount int) []types.Range {
	if workerCount < 1 {
		workerCount = 1
	}

	chunkSize := total / int64(workerCount)
	chunkSize = alignUp(chunkSize, types.AlignSize)
	if chunkSize < cfg.GetMinChunkSize() {
		chunkSize = cfg.GetMinChunkSize()
	}
	if chunkSize > cfg.GetMaxChunkSize() {
		chunkSize = cfg.GetMaxChunkSize()
	}
	if chunkSize > total {
		chunkSize = total
	}
	if chunkSize <= 0 {
		chunkSize = total
	}

	var ranges []types.Range
	idx := 0
	for start := int64(0); start < total; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}
		ranges = append(ranges, types.Range{Index: idx, Start: start, End: end, State: types.RangePending})
		idx++
	}
	if len(ranges) == 0 {
		ranges = append(ranges, types.Range{Index: 0, Start: 0, End: total, State: types.RangePending})
	}
	return ranges
}

func alignUp(n, align int64) int64 {
	if align <= 0 {
		return n
	}
	return ((n + align - 1) / align) * align
}

// ResumeResult is the outcome of reconciling a probe against an existing manifest.
type ResumeResult struct {
	Ranges   []types.Range
	Manifest *manifest.Manifest
	Resumed  bool // true if the existing manifest's progress was reused
}

// Resolve decides the plan for a (possibly already-manifested) download:
// if a manifest exists and still matches the freshly probed resource, only
// the not-yet-Done chunks are re-planned as pending work (spec §4.B,
// "discard and replan on inconsistency"); otherwise a fresh plan is built
// and any stale manifest is discarded.
func Resolve(url string, head httpclient.HeadResult, cfg *types.RuntimeConfig, workerCount int, existing *manifest.Manifest) ResumeResult {
	fresh := Plan(head, cfg, workerCount)

	if existing == nil {
		return ResumeResult{Ranges: fresh, Manifest: newManifestFor(url, head, fresh), Resumed: false}
	}
	if !existing.Matches(url, head.TotalSize, head.ETag) {
		utils.Debug("planner: manifest for %s no longer matches probed resource, replanning", url)
		return ResumeResult{Ranges: fresh, Manifest: newManifestFor(url, head, fresh), Resumed: false}
	}
	if existing.NumChunks() != len(fresh) {
		utils.Debug("planner: manifest chunk count %d != replanned %d, replanning", existing.NumChunks(), len(fresh))
		return ResumeResult{Ranges: fresh, Manifest: newManifestFor(url, head, fresh), Resumed: false}
	}

	remaining := make([]types.Range, 0, len(fresh))
	for _, r := range fresh {
		if existing.IsDone(r.Index) {
			r.State = types.RangeDone
			continue
		}
		remaining = append(remaining, r)
	}
	return ResumeResult{Ranges: remaining, Manifest: existing, Resumed: true}
}

func newManifestFor(url string, head httpclient.HeadResult, ranges []types.Range) *manifest.Manifest {
	chunkSize := int64(0)
	if len(ranges) > 0 && ranges[0].Length() > 0 {
		chunkSize = ranges[0].Length()
	}
	return manifest.New(url, head.TotalSize, chunkSize, head.ETag, len(ranges))
}
