package media

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestNormalizedRMSSilence(t *testing.T) {
	t.Parallel()

	if rms := NormalizedRMS(make([]byte, 640)); rms != 0 {
		t.Errorf("RMS of silence: got %v, want 0", rms)
	}
	if rms := NormalizedRMS(nil); rms != 0 {
		t.Errorf("RMS of empty: got %v, want 0", rms)
	}
}

func TestNormalizedRMSFullScale(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 640)
	for i := 0; i < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(32767)))
	}
	rms := NormalizedRMS(pcm)
	if math.Abs(rms-1) > 0.001 {
		t.Errorf("RMS of full-scale signal: got %v, want ~1", rms)
	}
}

func TestPCMDuration(t *testing.T) {
	t.Parallel()

	// 32 kHz mono s16le: 64 bytes per millisecond.
	if d := PCMDuration(64000, 32000); d != time.Second {
		t.Errorf("duration: got %v, want 1s", d)
	}
	if d := PCMDuration(100, 0); d != 0 {
		t.Errorf("duration with zero rate: got %v, want 0", d)
	}
}
