package mux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Record is one parsed container record.
type Record struct {
	Type     byte
	PTS      time.Duration
	Duration time.Duration
	Payload  []byte
}

// ErrTruncated indicates the stream ended before the trailer.
var ErrTruncated = errors.New("mux: container truncated before trailer")

// ReadContainer parses a complete container stream, verifying the header,
// the trailer, and the record counts the trailer declares. Used by tests and
// recovery tooling; the hot path never reads the container back.
func ReadContainer(r io.Reader) (StreamInfo, []Record, error) {
	var info StreamInfo

	hdr := make([]byte, 20)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return info, nil, fmt.Errorf("mux: read header: %w", err)
	}
	if string(hdr[:4]) != magic {
		return info, nil, fmt.Errorf("mux: bad magic %q", hdr[:4])
	}
	info.Width = int(binary.BigEndian.Uint32(hdr[4:]))
	info.Height = int(binary.BigEndian.Uint32(hdr[8:]))
	info.FrameRate = int(binary.BigEndian.Uint32(hdr[12:]))
	info.AudioSampleRate = int(binary.BigEndian.Uint32(hdr[16:]))

	var records []Record
	var videoSeen, audioSeen uint64
	for {
		var typ [1]byte
		if _, err := io.ReadFull(r, typ[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return info, records, ErrTruncated
			}
			return info, records, fmt.Errorf("mux: read record type: %w", err)
		}

		if typ[0] == recordTrailer {
			var counts [16]byte
			if _, err := io.ReadFull(r, counts[:]); err != nil {
				return info, records, fmt.Errorf("mux: read trailer: %w", err)
			}
			wantVideo := binary.BigEndian.Uint64(counts[:8])
			wantAudio := binary.BigEndian.Uint64(counts[8:])
			if wantVideo != videoSeen || wantAudio != audioSeen {
				return info, records, fmt.Errorf("mux: trailer declares %d video / %d audio records, stream has %d / %d",
					wantVideo, wantAudio, videoSeen, audioSeen)
			}
			return info, records, nil
		}

		var fixed [20]byte
		if _, err := io.ReadFull(r, fixed[:]); err != nil {
			return info, records, fmt.Errorf("mux: read record header: %w", err)
		}
		rec := Record{
			Type:     typ[0],
			PTS:      time.Duration(binary.BigEndian.Uint64(fixed[:8])),
			Duration: time.Duration(binary.BigEndian.Uint64(fixed[8:16])),
		}
		payloadLen := binary.BigEndian.Uint32(fixed[16:])
		rec.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, rec.Payload); err != nil {
			return info, records, fmt.Errorf("mux: read record payload: %w", err)
		}

		switch rec.Type {
		case recordVideo:
			videoSeen++
		case recordAudio:
			audioSeen++
		default:
			return info, records, fmt.Errorf("mux: unknown record type 0x%02x", rec.Type)
		}
		records = append(records, rec)
	}
}
