package story

import "fmt"

// Voice is a narration voice accepted by the speech providers.
type Voice string

const (
	VoiceAlloy   Voice = "alloy"
	VoiceEcho    Voice = "echo"
	VoiceFable   Voice = "fable"
	VoiceOnyx    Voice = "onyx"
	VoiceNova    Voice = "nova"
	VoiceShimmer Voice = "shimmer"

	DefaultVoice = VoiceAlloy
)

var Voices = []Voice{VoiceAlloy, VoiceEcho, VoiceFable, VoiceOnyx, VoiceNova, VoiceShimmer}

func (v Voice) Valid() bool {
	for _, known := range Voices {
		if v == known {
			return true
		}
	}
	return false
}

// ParseVoice returns DefaultVoice for an empty string and rejects voices
// outside the allow-list.
func ParseVoice(s string) (Voice, error) {
	if s == "" {
		return DefaultVoice, nil
	}
	v := Voice(s)
	if !v.Valid() {
		return "", fmt.Errorf("unsupported voice %q", s)
	}
	return v, nil
}
