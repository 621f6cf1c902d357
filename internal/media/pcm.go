package media

import (
	"encoding/binary"
	"math"
	"time"
)

// NormalizedRMS computes the root-mean-square energy of 16-bit little-endian
// PCM samples, normalized to [0, 1] by the maximum sample magnitude.
func NormalizedRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768
}

// PCMDuration returns the playback duration of 16-bit mono PCM at the given
// sample rate.
func PCMDuration(byteLen, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
