package pipeline

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/hibiki-ai/hibiki/internal/config"
	"github.com/hibiki-ai/hibiki/pkg/types"
)

// BargeInPolicy decides whether user activity during playback should cut
// the assistant off. The zero value never interrupts.
type BargeInPolicy struct {
	// Mode selects the detection signal.
	Mode config.BargeInMode

	// MinConfidence is the interim-transcript confidence floor.
	MinConfidence float64

	// MinRunes is the minimum interim transcript length.
	MinRunes int

	// EchoSimilarity is the Jaro-Winkler similarity above which an interim
	// transcript is treated as the microphone hearing the assistant's own
	// speech.
	EchoSimilarity float64

	// EnergyThreshold is the mean absolute sample amplitude, in s16 units,
	// that triggers energy mode.
	EnergyThreshold float64
}

// PolicyFromConfig copies the tuned values out of the config block.
func PolicyFromConfig(cfg config.BargeInConfig) BargeInPolicy {
	return BargeInPolicy{
		Mode:            cfg.Mode,
		MinConfidence:   cfg.MinConfidence,
		MinRunes:        cfg.MinRunes,
		EchoSimilarity:  cfg.EchoSimilarity,
		EnergyThreshold: cfg.EnergyThreshold,
	}
}

// ShouldInterrupt reports whether an interim transcript received while the
// assistant is speaking counts as a barge-in. speaking is the text of the
// chunks dispatched so far, used to filter out the assistant's own echo.
func (p BargeInPolicy) ShouldInterrupt(tr types.Transcript, speaking string) bool {
	if p.Mode != config.BargeInTranscript {
		return false
	}
	text := strings.TrimSpace(tr.Text)
	if len([]rune(text)) < p.MinRunes {
		return false
	}
	if tr.Confidence < p.MinConfidence {
		return false
	}
	if p.isEcho(text, speaking) {
		return false
	}
	return true
}

// isEcho reports whether heard closely matches any window of the text
// currently being spoken.
func (p BargeInPolicy) isEcho(heard, speaking string) bool {
	speaking = strings.TrimSpace(speaking)
	if speaking == "" || p.EchoSimilarity <= 0 {
		return false
	}
	if strings.Contains(normalize(speaking), normalize(heard)) {
		return true
	}
	return matchr.JaroWinkler(normalize(heard), normalize(speaking), true) >= p.EchoSimilarity
}

// normalize lowercases and strips whitespace so similarity compares
// content, not formatting.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// EnergyExceeded reports whether one capture frame of s16le PCM is loud
// enough to count as a barge-in in energy mode.
func (p BargeInPolicy) EnergyExceeded(frame []byte) bool {
	if p.Mode != config.BargeInEnergy || p.EnergyThreshold <= 0 {
		return false
	}
	return meanAbsAmplitude(frame) >= p.EnergyThreshold
}

// meanAbsAmplitude averages the absolute value of s16le samples.
func meanAbsAmplitude(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	return sum / float64(n)
}
