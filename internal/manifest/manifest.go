// Package manifest implements the resume sidecar file format from spec §6:
// a small file alongside the destination, named "<save_path>.tthsd",
// recording enough state to resume a partially downloaded file without
// re-fetching the chunks it already completed.
package manifest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/utils"
)

// magic is the fixed 6-byte prefix identifying a manifest file.
var magic = [6]byte{'T', 'T', 'H', 'S', 'D', 0}

// version is the current manifest wire format version.
const version byte = 1

// payload is the JSON body that follows the magic+version header.
type payload struct {
	URL          string `json:"url"`
	Total        int64  `json:"total"`
	ChunkSize    int64  `json:"chunk_size"`
	ETag         string `json:"etag,omitempty"`
	BitmapBase64 string `json:"bitmap_base64"`
}

// Manifest is the decoded, in-memory form of the sidecar file.
type Manifest struct {
	URL       string
	Total     int64
	ChunkSize int64
	ETag      string
	Bitmap    []byte // one bit per chunk, LSB-first within each byte
}

// PathFor returns the sidecar path for a given save path (spec §6).
func PathFor(savePath string) string {
	return savePath + types.ManifestSuffix
}

// New creates a fresh manifest with all chunks marked pending.
func New(url string, total, chunkSize int64, etag string, numChunks int) *Manifest {
	return &Manifest{
		URL:       url,
		Total:     total,
		ChunkSize: chunkSize,
		ETag:      etag,
		Bitmap:    make([]byte, (numChunks+7)/8),
	}
}

// IsDone reports whether chunk idx is marked complete.
func (m *Manifest) IsDone(idx int) bool {
	byteIdx := idx / 8
	if byteIdx >= len(m.Bitmap) {
		return false
	}
	return m.Bitmap[byteIdx]&(1<<uint(idx%8)) != 0
}

// MarkDone sets chunk idx as complete.
func (m *Manifest) MarkDone(idx int) {
	byteIdx := idx / 8
	if byteIdx >= len(m.Bitmap) {
		grown := make([]byte, byteIdx+1)
		copy(grown, m.Bitmap)
		m.Bitmap = grown
	}
	m.Bitmap[byteIdx] |= 1 << uint(idx%8)
}

// NumChunks returns the planned chunk count, ⌈Total/ChunkSize⌉. A manifest
// without a positive total and chunk size (unknown size, or an empty file)
// was planned as a single range and reports 1.
func (m *Manifest) NumChunks() int {
	if m.Total <= 0 || m.ChunkSize <= 0 {
		return 1
	}
	return int((m.Total + m.ChunkSize - 1) / m.ChunkSize)
}

// Matches reports whether a freshly probed resource still corresponds to
// this manifest (spec §4.B: size/ETag mismatch invalidates a resume plan).
func (m *Manifest) Matches(url string, total int64, etag string) bool {
	if m.URL != url || m.Total != total {
		return false
	}
	if m.ETag != "" && etag != "" && m.ETag != etag {
		return false
	}
	return true
}

// Encode serializes the manifest to the exact wire format from spec §6:
// magic (6 bytes) + version (1 byte) + JSON payload.
func (m *Manifest) Encode() ([]byte, error) {
	p := payload{
		URL:          m.URL,
		Total:        m.Total,
		ChunkSize:    m.ChunkSize,
		ETag:         m.ETag,
		BitmapBase64: base64.StdEncoding.EncodeToString(m.Bitmap),
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(version)
	buf.Write(body)
	return buf.Bytes(), nil
}

// Decode parses the wire format produced by Encode.
func Decode(data []byte) (*Manifest, error) {
	if len(data) < len(magic)+1 {
		return nil, fmt.Errorf("manifest: truncated header")
	}
	if !bytes.Equal(data[:len(magic)], magic[:]) {
		return nil, fmt.Errorf("manifest: bad magic")
	}
	v := data[len(magic)]
	if v != version {
		return nil, fmt.Errorf("manifest: unsupported version %d", v)
	}

	var p payload
	if err := json.Unmarshal(data[len(magic)+1:], &p); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	bitmap, err := base64.StdEncoding.DecodeString(p.BitmapBase64)
	if err != nil {
		return nil, fmt.Errorf("manifest: bad bitmap: %w", err)
	}

	return &Manifest{
		URL:       p.URL,
		Total:     p.Total,
		ChunkSize: p.ChunkSize,
		ETag:      p.ETag,
		Bitmap:    bitmap,
	}, nil
}

// Load reads and decodes the sidecar file for savePath. A missing file
// returns (nil, nil): the caller plans from scratch.
func Load(savePath string) (*Manifest, error) {
	data, err := os.ReadFile(PathFor(savePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return Decode(data)
}

// Save atomically writes the manifest via a temp-file-then-rename, guarded
// by a gofrs/flock advisory lock so a second process sharing the same
// save path can't interleave writes (spec §6).
func Save(savePath string, m *Manifest) error {
	path := PathFor(savePath)
	lockPath := path + ".lock"
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("manifest: acquire lock: %w", err)
	}
	defer fl.Unlock()

	data, err := m.Encode()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("manifest: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("manifest: rename: %w", err)
	}
	utils.Debug("manifest: saved %s (%d bytes)", path, len(data))
	return nil
}

// Delete removes the sidecar file and its lock file on successful completion.
func Delete(savePath string) error {
	path := PathFor(savePath)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	os.Remove(path + ".lock")
	return nil
}
