// Package audioopt implements the deterministic audio optimization stage of
// the voice pipeline.
//
// The optimizer operates on little-endian int16 PCM payloads (raw or inside a
// WAV container) and applies, in fixed order: resampling, channel conversion,
// noise gating, silence trimming, and peak normalization — as enabled by the
// quality preset's [Profile]. Already-encoded payloads (mp3, ogg, flac) pass
// through unchanged; the vendor encoded them at the requested quality and
// re-encoding lossy audio would make the output depend on codec internals.
//
// Every stage is pure and side-effect free. For identical input bytes, source
// description, and preset the output is byte-identical, and the transform is
// idempotent: optimizing an already-optimized payload returns it unchanged.
// Optimization may run before a result enters the cache, so cache correctness
// depends on this reproducibility.
package audioopt

import (
	"fmt"

	"github.com/sarathi-ai/voicecore/pkg/types"
)

// Default stage tuning. Exposed as optimizer options so deployments can
// adjust for their capture chain.
const (
	// defaultGateThreshold is the absolute int16 amplitude below which a
	// sample counts as silence for gating and trimming.
	defaultGateThreshold = 327 // ~1% of full scale

	// defaultNormalizePeak is the target peak amplitude for normalization,
	// slightly under full scale to leave headroom.
	defaultNormalizePeak = 29490 // ~90% of full scale

	// trimWindow is the number of consecutive silent samples required before
	// trimming considers a region leading/trailing silence.
	trimWindow = 160 // 10ms at 16kHz
)

// SourceSpec describes the PCM layout of an inbound payload.
type SourceSpec struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels: 1 mono, 2 stereo.
	Channels int
}

// Optimizer applies quality-preset transforms to audio payloads.
// It is stateless and safe for concurrent use.
type Optimizer struct {
	gateThreshold int16
	normalizePeak int16
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithGateThreshold overrides the silence/noise-gate amplitude threshold.
func WithGateThreshold(v int16) Option {
	return func(o *Optimizer) { o.gateThreshold = v }
}

// WithNormalizePeak overrides the normalization target peak.
func WithNormalizePeak(v int16) Option {
	return func(o *Optimizer) { o.normalizePeak = v }
}

// New returns an Optimizer with default stage tuning.
func New(opts ...Option) *Optimizer {
	o := &Optimizer{
		gateThreshold: defaultGateThreshold,
		normalizePeak: defaultNormalizePeak,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Transform converts data from srcFormat to dstFormat at the given preset.
//
// Supported conversions: pcm→pcm, pcm→wav, wav→pcm, wav→wav. For these the
// source layout is taken from src (raw PCM) or the WAV header, the PCM is
// processed per the preset's [Profile], and the result is emitted in
// dstFormat. Any other format combination returns data unchanged only when
// src and dst formats are equal, and an error otherwise.
func (o *Optimizer) Transform(data []byte, src SourceSpec, srcFormat, dstFormat types.AudioFormat, preset types.QualityPreset) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("audioopt: empty payload")
	}

	profile := ProfileFor(preset)

	var pcm []byte
	spec := src
	switch srcFormat {
	case types.FormatPCM:
		if spec.SampleRate <= 0 || spec.Channels <= 0 {
			return nil, fmt.Errorf("audioopt: raw pcm requires a source spec")
		}
		pcm = data
	case types.FormatWAV:
		var err error
		pcm, spec, err = decodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("audioopt: %w", err)
		}
	default:
		if srcFormat == dstFormat {
			// Already-encoded payload; pass through untouched.
			return data, nil
		}
		return nil, fmt.Errorf("audioopt: cannot transcode %s to %s", srcFormat, dstFormat)
	}

	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audioopt: odd byte count in int16 PCM payload")
	}

	pcm = o.process(pcm, spec, profile)

	switch dstFormat {
	case types.FormatPCM:
		return pcm, nil
	case types.FormatWAV:
		return encodeWAV(pcm, SourceSpec{SampleRate: profile.SampleRate, Channels: profile.Channels}), nil
	default:
		return nil, fmt.Errorf("audioopt: unsupported target format %s", dstFormat)
	}
}

// process runs the PCM stage chain in fixed order. Stage order is part of
// the determinism contract: resample and channel conversion first (so the
// gate threshold applies to the delivery layout), then normalization, then
// gating and trimming. Normalization precedes the gate so that re-running
// the chain on its own output changes nothing — after the first pass every
// sample is either zero or at least the gate threshold, and the peak already
// sits at the normalization target.
func (o *Optimizer) process(pcm []byte, spec SourceSpec, profile Profile) []byte {
	rate := spec.SampleRate
	channels := spec.Channels

	if rate != profile.SampleRate {
		if channels == 1 {
			pcm = resampleMono16(pcm, rate, profile.SampleRate)
		} else {
			pcm = resampleStereo16(pcm, rate, profile.SampleRate)
		}
		rate = profile.SampleRate
	}

	if channels != profile.Channels {
		if channels == 1 && profile.Channels == 2 {
			pcm = monoToStereo(pcm)
		} else if channels == 2 && profile.Channels == 1 {
			pcm = stereoToMono(pcm)
		}
		channels = profile.Channels
	}

	if profile.Normalize {
		pcm = o.normalize(pcm)
	}
	if profile.NoiseGate {
		pcm = o.gate(pcm)
	}
	if profile.TrimSilence {
		pcm = o.trim(pcm, channels)
	}
	return pcm
}

// gate zeroes samples whose magnitude is below the gate threshold.
func (o *Optimizer) gate(pcm []byte) []byte {
	out := make([]byte, len(pcm))
	copy(out, pcm)
	for i := 0; i+1 < len(out); i += 2 {
		s := int16(out[i]) | int16(out[i+1])<<8
		if s > -o.gateThreshold && s < o.gateThreshold {
			out[i], out[i+1] = 0, 0
		}
	}
	return out
}

// trim removes leading and trailing runs of silence longer than trimWindow
// samples, keeping one window of padding so speech onsets are not clipped.
func (o *Optimizer) trim(pcm []byte, channels int) []byte {
	sampleBytes := 2 * channels
	n := len(pcm) / sampleBytes
	if n == 0 {
		return pcm
	}

	loud := func(frame int) bool {
		base := frame * sampleBytes
		for c := 0; c < channels; c++ {
			s := int16(pcm[base+2*c]) | int16(pcm[base+2*c+1])<<8
			if s <= -o.gateThreshold || s >= o.gateThreshold {
				return true
			}
		}
		return false
	}

	first, last := -1, -1
	for i := 0; i < n; i++ {
		if loud(i) {
			first = i
			break
		}
	}
	if first < 0 {
		// Entirely silent payload; keep it as-is rather than emitting nothing.
		return pcm
	}
	for i := n - 1; i >= first; i-- {
		if loud(i) {
			last = i
			break
		}
	}

	start := first - trimWindow
	if start < 0 {
		start = 0
	}
	end := last + 1 + trimWindow
	if end > n {
		end = n
	}
	if start == 0 && end == n {
		return pcm
	}
	return pcm[start*sampleBytes : end*sampleBytes]
}

// normalize rescales so the peak magnitude equals the normalization target.
// Scaling uses exact integer arithmetic (s·target/peak) so the peak sample
// lands on the target precisely; payloads already at the target (or silent)
// are returned unchanged, making repeated normalization a no-op.
func (o *Optimizer) normalize(pcm []byte) []byte {
	var peak int64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak == 0 || peak == int64(o.normalizePeak) {
		return pcm
	}

	out := make([]byte, len(pcm))
	target := int64(o.normalizePeak)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		v := s * target / peak
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = byte(v)
		out[i+1] = byte(v >> 8)
	}
	return out
}

// monoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func monoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// stereoToMono averages L+R per stereo frame. Uses int32 arithmetic to
// prevent overflow and clamps to int16 range.
func stereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// resampleMono16 resamples 16-bit mono PCM using linear interpolation.
func resampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// resampleStereo16 resamples 16-bit interleaved stereo PCM using linear
// interpolation per channel.
func resampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)
	for i := 0; i < dstFrames; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		for c := 0; c < 2; c++ {
			s0 := int16(pcm[srcIdx*4+2*c]) | int16(pcm[srcIdx*4+2*c+1])<<8
			s1 := s0
			if srcIdx+1 < srcFrames {
				s1 = int16(pcm[(srcIdx+1)*4+2*c]) | int16(pcm[(srcIdx+1)*4+2*c+1])<<8
			}
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			out[i*4+2*c] = byte(v)
			out[i*4+2*c+1] = byte(v >> 8)
		}
	}
	return out
}
