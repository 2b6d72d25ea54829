package audioopt

import (
	"encoding/binary"
	"fmt"
)

// decodeWAV extracts the int16 PCM payload and layout from a RIFF/WAVE
// container. Only uncompressed 16-bit PCM (format tag 1) is supported,
// which is what every speech vendor emits for "wav" output.
func decodeWAV(data []byte) ([]byte, SourceSpec, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, SourceSpec{}, fmt.Errorf("not a RIFF/WAVE payload")
	}

	var spec SourceSpec
	var pcm []byte
	sawFmt := false

	// Walk the chunk list. Chunks are word-aligned.
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return nil, SourceSpec{}, fmt.Errorf("truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, SourceSpec{}, fmt.Errorf("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, SourceSpec{}, fmt.Errorf("unsupported wav format tag %d", format)
			}
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bits != 16 {
				return nil, SourceSpec{}, fmt.Errorf("unsupported wav bit depth %d", bits)
			}
			spec.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			spec.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			sawFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		off = body + size
		if size%2 != 0 {
			off++ // chunk padding byte
		}
	}

	if !sawFmt || pcm == nil {
		return nil, SourceSpec{}, fmt.Errorf("wav payload missing fmt or data chunk")
	}
	if spec.Channels < 1 || spec.Channels > 2 || spec.SampleRate <= 0 {
		return nil, SourceSpec{}, fmt.Errorf("unsupported wav layout: %d ch @ %d Hz", spec.Channels, spec.SampleRate)
	}
	return pcm, spec, nil
}

// encodeWAV wraps int16 PCM in a canonical 44-byte RIFF/WAVE header.
// The output is byte-deterministic for identical input.
func encodeWAV(pcm []byte, spec SourceSpec) []byte {
	const headerSize = 44
	out := make([]byte, headerSize+len(pcm))

	byteRate := spec.SampleRate * spec.Channels * 2
	blockAlign := spec.Channels * 2

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(spec.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(spec.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[headerSize:], pcm)
	return out
}
