package audio

import (
	"encoding/binary"
	"errors"
)

// WAV audio format tags.
const (
	FormatTagPCM  = 1
	FormatTagULaw = 7
)

// WAVInfo holds the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	DataOffset int // byte offset of the first sample
	DataLen    int // length of the data chunk in bytes
	SampleRate int
	Channels   int
	Bits       int // bits per sample
	FormatTag  int // 1 = PCM, 7 = mu-law
}

// ParseWAV scans the RIFF/WAVE container in wav and returns the location of
// the sample data plus the format from the "fmt " sub-chunk. Walking the
// chunks is more robust than assuming a fixed 44-byte header because the fmt
// chunk size varies between encoders.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: WAV data too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: WAV data missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: WAV data missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.FormatTag = int(binary.LittleEndian.Uint16(fmtData[0:2]))
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				info.Bits = int(binary.LittleEndian.Uint16(fmtData[14:16]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			info.DataLen = chunkSize
			if info.DataOffset+info.DataLen > len(wav) {
				info.DataLen = len(wav) - info.DataOffset
			}
			if !foundFmt {
				// fmt should precede data; fall back to telephone defaults.
				info.SampleRate = 8000
				info.Channels = 1
				info.Bits = 16
				info.FormatTag = FormatTagPCM
			}
			return info, nil
		}

		// Chunks are word-aligned: pad by 1 if size is odd.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV data missing data chunk")
}

// EncodeWAV wraps little-endian 16-bit mono PCM in a minimal RIFF/WAVE
// container at the given sample rate.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	return encodeWAV(pcm, sampleRate, FormatTagPCM, 16)
}

// EncodeWAVULaw wraps raw G.711 mu-law bytes in a RIFF/WAVE container
// (format tag 7). Telephony providers accept this directly for playback.
func EncodeWAVULaw(ulaw []byte, sampleRate int) []byte {
	return encodeWAV(ulaw, sampleRate, FormatTagULaw, 8)
}

func encodeWAV(data []byte, sampleRate, formatTag, bits int) []byte {
	const headerLen = 44
	blockAlign := bits / 8 // mono
	byteRate := sampleRate * blockAlign

	out := make([]byte, headerLen+len(data))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(data)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], uint16(formatTag))
	binary.LittleEndian.PutUint16(out[22:24], 1) // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(bits))

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(data)))
	copy(out[headerLen:], data)
	return out
}
