// Package trace captures datagram traffic to disk for offline analysis: a
// snappy-compressed JSONL journal of per-datagram metadata and a
// zstd-compressed stream of the raw frames, described by a manifest.
package trace

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var labelCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// flushInterval batches raw-frame writes so capture stays off the hot path.
const flushInterval = 200 * time.Millisecond

// Manifest describes the capture bundle layout for tooling.
type Manifest struct {
	Version     int    `json:"version"`
	CreatedAt   string `json:"created_at"`
	Region      string `json:"region"`
	JournalPath string `json:"journal_path"`
	FramesPath  string `json:"frames_path"`
}

type pendingFrame struct {
	capturedAt time.Time
	direction  string
	payload    []byte
}

// Recorder streams capture artefacts into one bundle directory.
type Recorder struct {
	mu            sync.Mutex
	dir           string
	now           func() time.Time
	journalFile   *os.File
	journalStream *snappy.Writer
	frameFile     *os.File
	frameStream   *zstd.Encoder
	pending       []pendingFrame
	lastFlush     time.Time
	closed        bool
}

// NewRecorder prepares the bundle directory and opens the compressed sinks.
func NewRecorder(root, region string, clock func() time.Time) (*Recorder, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("trace root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := labelCleaner.ReplaceAllString(region, "")
	if cleaned == "" {
		cleaned = "region"
	}
	created := clock().UTC()
	dir := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	journalPath := filepath.Join(dir, "journal.jsonl.sz")
	framesPath := filepath.Join(dir, "frames.bin.zst")

	journalFile, err := os.Create(journalPath)
	if err != nil {
		return nil, Manifest{}, err
	}
	journalStream := snappy.NewBufferedWriter(journalFile)

	frameFile, err := os.Create(framesPath)
	if err != nil {
		journalFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		journalStream.Close()
		journalFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:     1,
		CreatedAt:   created.Format(time.RFC3339Nano),
		Region:      region,
		JournalPath: "journal.jsonl.sz",
		FramesPath:  "frames.bin.zst",
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		journalStream.Close()
		journalFile.Close()
		return nil, Manifest{}, err
	}

	return &Recorder{
		dir:           dir,
		now:           clock,
		journalFile:   journalFile,
		journalStream: journalStream,
		frameFile:     frameFile,
		frameStream:   frameStream,
	}, manifest, nil
}

// Directory exposes the directory backing the capture bundle.
func (r *Recorder) Directory() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// RecordDatagram journals one datagram and stages its raw bytes. Safe to
// call from the receive and send paths; failures are returned, not fatal.
func (r *Recorder) RecordDatagram(direction, peer string, frame []byte) error {
	if r == nil {
		return fmt.Errorf("recorder not initialised")
	}
	captured := r.now().UTC()
	clone := append([]byte(nil), frame...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder closed")
	}

	//1.- One JSONL record per datagram keeps the journal streamable.
	record := struct {
		CapturedAt string `json:"captured_at"`
		Direction  string `json:"direction"`
		Peer       string `json:"peer"`
		Size       int    `json:"size"`
		PayloadB64 string `json:"payload_b64"`
	}{
		CapturedAt: captured.Format(time.RFC3339Nano),
		Direction:  direction,
		Peer:       peer,
		Size:       len(clone),
		PayloadB64: base64.StdEncoding.EncodeToString(clone),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := r.journalStream.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := r.journalStream.Flush(); err != nil {
		return err
	}

	//2.- Raw frames are batched and flushed on a fixed cadence.
	r.pending = append(r.pending, pendingFrame{capturedAt: captured, direction: direction, payload: clone})
	if r.lastFlush.IsZero() {
		r.lastFlush = captured
		return nil
	}
	if captured.Sub(r.lastFlush) >= flushInterval {
		if err := r.flushLocked(); err != nil {
			return err
		}
		r.lastFlush = captured
	}
	return nil
}

// Flush forces staged frames to disk regardless of cadence.
func (r *Recorder) Flush() error {
	if r == nil {
		return fmt.Errorf("recorder not initialised")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flushLocked(); err != nil {
		return err
	}
	r.lastFlush = r.now().UTC()
	return nil
}

// flushLocked writes staged frames as length-prefixed records: capture time
// in unix nanoseconds, a direction byte, then the frame bytes.
func (r *Recorder) flushLocked() error {
	for _, frame := range r.pending {
		var header [13]byte
		binary.BigEndian.PutUint64(header[:8], uint64(frame.capturedAt.UnixNano()))
		dir := byte('i')
		if frame.direction == "out" {
			dir = 'o'
		}
		header[8] = dir
		binary.BigEndian.PutUint32(header[9:13], uint32(len(frame.payload)))
		if _, err := r.frameStream.Write(header[:]); err != nil {
			return err
		}
		if _, err := r.frameStream.Write(frame.payload); err != nil {
			return err
		}
	}
	r.pending = r.pending[:0]
	return nil
}

// Close flushes everything and releases the file handles.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	if err := r.flushLocked(); err != nil {
		firstErr = err
	}
	if err := r.journalStream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.journalStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.journalFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.frameStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.frameFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
