// Package media defines the planar I420 frame model shared by the capture,
// selection, and encode stages, along with the frame scaler and the PCM
// helpers used by the audio path.
package media

import (
	"fmt"
	"time"
)

// Chroma planes in I420 are subsampled by 2 in both dimensions, so a "black"
// chroma sample sits at the midpoint of the range.
const chromaBlack = 128

// Frame is a single raw planar 4:2:0 picture as delivered by the session
// binding: the Y plane followed by the U and V planes, each chroma plane a
// quarter the size of the luma plane.
type Frame struct {
	Width       int
	Height      int
	Data        []byte
	CaptureTime time.Time
}

// FrameSize returns the byte length of an I420 frame with the given
// dimensions.
func FrameSize(width, height int) int {
	return width*height + 2*((width/2)*(height/2))
}

// Validate checks that the frame's buffer matches its declared dimensions.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}
	if want := FrameSize(f.Width, f.Height); len(f.Data) != want {
		return fmt.Errorf("frame buffer is %d bytes, want %d for %dx%d", len(f.Data), want, f.Width, f.Height)
	}
	return nil
}

// BlackFrame synthesizes an all-black I420 frame at the given dimensions.
// Dimensions must be even so the chroma planes subsample cleanly.
func BlackFrame(width, height int) ([]byte, error) {
	if width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("frame dimensions %dx%d must be even for I420", width, height)
	}
	data := make([]byte, FrameSize(width, height))
	for i := width * height; i < len(data); i++ {
		data[i] = chromaBlack
	}
	return data, nil
}
