package segmenter

import (
	"encoding/binary"

	"confbot/internal/media"
)

// EnergyClassifier is the default speech detector: a chunk counts as speech
// when it has enough energy and a zero-crossing rate in the range typical of
// voiced audio. High ZCR indicates fricative noise or static, near-zero ZCR
// a DC offset or hum.
type EnergyClassifier struct{}

const (
	minSpeechRMS = 0.01
	maxSpeechZCR = 0.35
)

// IsSpeech implements Classifier.
func (EnergyClassifier) IsSpeech(pcm []byte, sampleRate int) bool {
	n := len(pcm) / 2
	if n < 2 {
		return false
	}
	if media.NormalizedRMS(pcm) < minSpeechRMS {
		return false
	}

	crossings := 0
	prev := int16(binary.LittleEndian.Uint16(pcm))
	for i := 1; i < n; i++ {
		cur := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if (prev < 0) != (cur < 0) {
			crossings++
		}
		prev = cur
	}
	zcr := float64(crossings) / float64(n-1)
	return zcr < maxSpeechZCR
}
