package mux

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestWriteAndReadBack(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w, err := NewWriter(&buf, StreamInfo{Width: 640, Height: 360, FrameRate: 30, AudioSampleRate: 32000})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if err := w.WriteVideo(0, 33*time.Millisecond, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteVideo: %v", err)
	}
	if err := w.WriteAudio(10*time.Millisecond, []byte{4, 5}); err != nil {
		t.Fatalf("WriteAudio: %v", err)
	}
	if err := w.WriteVideo(33*time.Millisecond, 33*time.Millisecond, []byte{6}); err != nil {
		t.Fatalf("WriteVideo: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	info, records, err := ReadContainer(&buf)
	if err != nil {
		t.Fatalf("ReadContainer: %v", err)
	}
	if info.Width != 640 || info.Height != 360 || info.FrameRate != 30 || info.AudioSampleRate != 32000 {
		t.Errorf("header mismatch: %+v", info)
	}
	if len(records) != 3 {
		t.Fatalf("records: got %d, want 3", len(records))
	}
	if records[1].Type != recordAudio || records[1].PTS != 10*time.Millisecond {
		t.Errorf("audio record: %+v", records[1])
	}
	if records[2].PTS != 33*time.Millisecond || records[2].Duration != 33*time.Millisecond {
		t.Errorf("video record: %+v", records[2])
	}
}

func TestWriteAfterFinalize(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w, err := NewWriter(&buf, StreamInfo{Width: 640, Height: 360})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if err := w.WriteVideo(0, 0, nil); !errors.Is(err, ErrFinalized) {
		t.Errorf("WriteVideo after Finalize: got %v, want ErrFinalized", err)
	}
	if err := w.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Errorf("double Finalize: got %v, want ErrFinalized", err)
	}
}

func TestReadTruncated(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w, err := NewWriter(&buf, StreamInfo{Width: 640, Height: 360})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteAudio(0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteAudio: %v", err)
	}
	// No Finalize: stream ends without trailer.

	_, records, err := ReadContainer(&buf)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
	if len(records) != 1 {
		t.Errorf("records before truncation: got %d, want 1", len(records))
	}
}
