// Package mux writes the recording container: a single ordered byte stream
// interleaving timestamped video and audio records behind a small Muxer
// interface, so the pipeline stays decoupled from the concrete container and
// an external encoder can be swapped in.
package mux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Muxer combines synchronized video and audio units into one container
// stream. Implementations must be driven from a single goroutine; the
// pipeline's consumer is the only writer.
type Muxer interface {
	WriteVideo(pts, duration time.Duration, data []byte) error
	WriteAudio(pts time.Duration, data []byte) error
	// Finalize writes the container trailer. No writes may follow.
	Finalize() error
}

// Container magic and record types. Records are strictly ordered and
// append-only; once emitted a byte range is never rewritten.
const (
	magic = "CBR1"

	recordVideo   = 0x01
	recordAudio   = 0x02
	recordTrailer = 0xFF
)

// ErrFinalized is returned for writes after Finalize.
var ErrFinalized = errors.New("mux: container already finalized")

// StreamInfo describes the fixed input format declared in the container
// header.
type StreamInfo struct {
	Width           int
	Height          int
	FrameRate       int
	AudioSampleRate int
}

// Writer emits the container to an io.Writer. Each record is
// [type:1][pts_ns:8][dur_ns:8][len:4][payload]; the trailer carries the
// video and audio record counts for integrity checking on read.
type Writer struct {
	w          io.Writer
	videoCount uint64
	audioCount uint64
	finalized  bool
}

// NewWriter writes the container header and returns a Writer.
func NewWriter(w io.Writer, info StreamInfo) (*Writer, error) {
	hdr := make([]byte, 0, 24)
	hdr = append(hdr, magic...)
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(info.Width))
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(info.Height))
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(info.FrameRate))
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(info.AudioSampleRate))
	if _, err := w.Write(hdr); err != nil {
		return nil, fmt.Errorf("mux: write header: %w", err)
	}
	return &Writer{w: w}, nil
}

// WriteVideo appends one video record with its presentation timestamp and
// nominal duration.
func (m *Writer) WriteVideo(pts, duration time.Duration, data []byte) error {
	if err := m.writeRecord(recordVideo, pts, duration, data); err != nil {
		return err
	}
	m.videoCount++
	return nil
}

// WriteAudio appends one audio record.
func (m *Writer) WriteAudio(pts time.Duration, data []byte) error {
	if err := m.writeRecord(recordAudio, pts, 0, data); err != nil {
		return err
	}
	m.audioCount++
	return nil
}

// Finalize writes the trailer record. Idempotent: a second call is an error
// but writes nothing.
func (m *Writer) Finalize() error {
	if m.finalized {
		return ErrFinalized
	}
	m.finalized = true

	trailer := make([]byte, 0, 17)
	trailer = append(trailer, recordTrailer)
	trailer = binary.BigEndian.AppendUint64(trailer, m.videoCount)
	trailer = binary.BigEndian.AppendUint64(trailer, m.audioCount)
	if _, err := m.w.Write(trailer); err != nil {
		return fmt.Errorf("mux: write trailer: %w", err)
	}
	return nil
}

// Counts returns the number of video and audio records written so far.
func (m *Writer) Counts() (video, audio uint64) {
	return m.videoCount, m.audioCount
}

func (m *Writer) writeRecord(typ byte, pts, duration time.Duration, data []byte) error {
	if m.finalized {
		return ErrFinalized
	}

	rec := make([]byte, 0, 21+len(data))
	rec = append(rec, typ)
	rec = binary.BigEndian.AppendUint64(rec, uint64(pts.Nanoseconds()))
	rec = binary.BigEndian.AppendUint64(rec, uint64(duration.Nanoseconds()))
	rec = binary.BigEndian.AppendUint32(rec, uint32(len(data)))
	rec = append(rec, data...)

	if _, err := m.w.Write(rec); err != nil {
		return fmt.Errorf("mux: write record: %w", err)
	}
	return nil
}
