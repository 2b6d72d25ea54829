package audioopt

import (
	"bytes"
	"math"
	"testing"

	"github.com/sarathi-ai/voicecore/pkg/types"
)

// sine generates n samples of int16 mono PCM at the given amplitude.
func sine(n int, amplitude float64) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*float64(i)/64))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// silence generates n zero samples of int16 mono PCM.
func silence(n int) []byte {
	return make([]byte, n*2)
}

func TestTransform_Idempotent(t *testing.T) {
	o := New()
	src := SourceSpec{SampleRate: 48000, Channels: 1}

	input := append(append(silence(4000), sine(8000, 12000)...), silence(4000)...)

	for _, preset := range []types.QualityPreset{types.QualityLow, types.QualityGood, types.QualityHigh, types.QualityPremium} {
		first, err := o.Transform(input, src, types.FormatPCM, types.FormatPCM, preset)
		if err != nil {
			t.Fatalf("%s: first transform: %v", preset, err)
		}

		profile := ProfileFor(preset)
		again, err := o.Transform(first, SourceSpec{SampleRate: profile.SampleRate, Channels: profile.Channels},
			types.FormatPCM, types.FormatPCM, preset)
		if err != nil {
			t.Fatalf("%s: second transform: %v", preset, err)
		}
		if !bytes.Equal(first, again) {
			t.Errorf("%s: transform is not idempotent (%d vs %d bytes)", preset, len(first), len(again))
		}
	}
}

func TestTransform_Deterministic(t *testing.T) {
	o := New()
	src := SourceSpec{SampleRate: 22050, Channels: 1}
	input := sine(5000, 9000)

	a, err := o.Transform(input, src, types.FormatPCM, types.FormatPCM, types.QualityGood)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	b, err := o.Transform(input, src, types.FormatPCM, types.FormatPCM, types.QualityGood)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical input and preset produced different output")
	}
}

func TestTransform_ResamplesToProfileRate(t *testing.T) {
	o := New()
	src := SourceSpec{SampleRate: 48000, Channels: 1}
	input := sine(48000, 10000) // 1 second

	out, err := o.Transform(input, src, types.FormatPCM, types.FormatPCM, types.QualityLow)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	// One second at 16 kHz mono is 32000 bytes; trimming may remove a little.
	if len(out) > 32000 {
		t.Errorf("expected at most 32000 bytes after downsample, got %d", len(out))
	}
	if len(out) < 24000 {
		t.Errorf("output suspiciously short: %d bytes", len(out))
	}
}

func TestTransform_TrimsEdgeSilence(t *testing.T) {
	o := New()
	src := SourceSpec{SampleRate: 16000, Channels: 1}
	speech := sine(1600, 15000)
	input := append(append(silence(16000), speech...), silence(16000)...)

	out, err := o.Transform(input, src, types.FormatPCM, types.FormatPCM, types.QualityLow)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(out) >= len(input) {
		t.Errorf("edge silence was not trimmed: %d >= %d bytes", len(out), len(input))
	}
	// Padding of one trim window on each side is retained.
	want := len(speech) + 2*trimWindow*2
	if len(out) > want {
		t.Errorf("trimmed output too long: got %d bytes, want at most %d", len(out), want)
	}
}

func TestTransform_FullySilentPayloadSurvives(t *testing.T) {
	o := New()
	src := SourceSpec{SampleRate: 16000, Channels: 1}
	input := silence(1600)

	out, err := o.Transform(input, src, types.FormatPCM, types.FormatPCM, types.QualityLow)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(out) == 0 {
		t.Error("silent payload should not be trimmed to nothing")
	}
}

func TestTransform_NormalizesPeak(t *testing.T) {
	o := New()
	src := SourceSpec{SampleRate: 22050, Channels: 1}
	input := sine(4096, 8000) // quiet

	out, err := o.Transform(input, src, types.FormatPCM, types.FormatPCM, types.QualityGood)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	var peak int32
	for i := 0; i+1 < len(out); i += 2 {
		s := int32(int16(out[i]) | int16(out[i+1])<<8)
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak != defaultNormalizePeak {
		t.Errorf("peak after normalization = %d, want %d", peak, defaultNormalizePeak)
	}
}

func TestTransform_StereoDownmix(t *testing.T) {
	o := New()
	mono := sine(2205, 10000)
	stereo := monoToStereo(mono)

	out, err := o.Transform(stereo, SourceSpec{SampleRate: 22050, Channels: 2},
		types.FormatPCM, types.FormatPCM, types.QualityGood)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	// Good is mono at the source rate, so the byte count halves (modulo trim).
	if len(out) > len(mono) {
		t.Errorf("downmix output longer than mono source: %d > %d", len(out), len(mono))
	}
}

func TestTransform_WAVRoundTrip(t *testing.T) {
	o := New()
	pcm := sine(2205, 10000)
	wav := encodeWAV(pcm, SourceSpec{SampleRate: 22050, Channels: 1})

	out, err := o.Transform(wav, SourceSpec{}, types.FormatWAV, types.FormatWAV, types.QualityGood)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	gotPCM, spec, err := decodeWAV(out)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if spec.SampleRate != 22050 || spec.Channels != 1 {
		t.Errorf("output layout = %d ch @ %d Hz, want 1 ch @ 22050 Hz", spec.Channels, spec.SampleRate)
	}
	if len(gotPCM) == 0 {
		t.Error("empty PCM in output wav")
	}
}

func TestTransform_EncodedPassthrough(t *testing.T) {
	o := New()
	payload := []byte("not-really-mp3-bytes")

	out, err := o.Transform(payload, SourceSpec{}, types.FormatMP3, types.FormatMP3, types.QualityHigh)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Error("encoded payload should pass through unchanged")
	}
}

func TestTransform_RejectsCrossCodecTranscode(t *testing.T) {
	o := New()
	if _, err := o.Transform([]byte{1, 2}, SourceSpec{}, types.FormatMP3, types.FormatOGG, types.QualityGood); err == nil {
		t.Error("expected error for mp3→ogg transcode")
	}
}

func TestTransform_RejectsOddPCM(t *testing.T) {
	o := New()
	if _, err := o.Transform([]byte{1, 2, 3}, SourceSpec{SampleRate: 16000, Channels: 1},
		types.FormatPCM, types.FormatPCM, types.QualityLow); err == nil {
		t.Error("expected error for odd-length int16 payload")
	}
}

func TestDecodeWAV_RejectsGarbage(t *testing.T) {
	if _, _, err := decodeWAV([]byte("RIFFxxxxJUNK")); err == nil {
		t.Error("expected error for non-WAVE payload")
	}
	if _, _, err := decodeWAV([]byte("short")); err == nil {
		t.Error("expected error for short payload")
	}
}
