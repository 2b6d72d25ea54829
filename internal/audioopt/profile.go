package audioopt

import "github.com/sarathi-ai/voicecore/pkg/types"

// Profile is the concrete optimization target a quality preset expands to.
// All fields are fixed per preset so that the transform stays reproducible —
// cache correctness depends on identical input and preset always producing
// identical bytes.
type Profile struct {
	// BitrateKbps is the nominal encode bitrate. Informational for PCM/WAV
	// payloads, where size follows sample rate and channel count instead.
	BitrateKbps int

	// SampleRate is the target sample rate in Hz.
	SampleRate int

	// Channels is the target channel count (1 = mono, 2 = stereo).
	Channels int

	// TrimSilence removes leading/trailing stretches below the gate threshold.
	TrimSilence bool

	// Normalize rescales the payload so its peak hits the normalization target.
	Normalize bool

	// NoiseGate zeroes samples below the gate threshold, removing low-level hiss.
	NoiseGate bool
}

// profiles maps each preset to its fixed tier. Values follow the platform's
// four delivery tiers, from bandwidth-constrained mobile data to lossless.
var profiles = map[types.QualityPreset]Profile{
	types.QualityLow: {
		BitrateKbps: 64,
		SampleRate:  16000,
		Channels:    1,
		TrimSilence: true,
		Normalize:   true,
		NoiseGate:   true,
	},
	types.QualityGood: {
		BitrateKbps: 128,
		SampleRate:  22050,
		Channels:    1,
		TrimSilence: true,
		Normalize:   true,
		NoiseGate:   true,
	},
	types.QualityHigh: {
		BitrateKbps: 192,
		SampleRate:  44100,
		Channels:    2,
		TrimSilence: true,
		Normalize:   true,
		NoiseGate:   false,
	},
	types.QualityPremium: {
		BitrateKbps: 320,
		SampleRate:  48000,
		Channels:    2,
		TrimSilence: false,
		Normalize:   false,
		NoiseGate:   false,
	},
}

// ProfileFor returns the profile for preset. Unknown presets fall back to
// the "good" tier.
func ProfileFor(preset types.QualityPreset) Profile {
	if p, ok := profiles[preset]; ok {
		return p
	}
	return profiles[types.QualityGood]
}
