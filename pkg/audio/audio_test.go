package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestULawSilence checks the canonical G.711 encoding of digital silence.
func TestULawSilence(t *testing.T) {
	if got := EncodeULawSample(0); got != 0xFF {
		t.Errorf("EncodeULawSample(0) = %#02x, want 0xff", got)
	}
	if got := DecodeULawSample(0xFF); got != 0 {
		t.Errorf("DecodeULawSample(0xff) = %d, want 0", got)
	}
}

// TestULawSign checks that the sign bit survives the codec.
func TestULawSign(t *testing.T) {
	pos := DecodeULawSample(EncodeULawSample(1000))
	neg := DecodeULawSample(EncodeULawSample(-1000))
	if pos <= 0 {
		t.Errorf("positive sample decoded to %d", pos)
	}
	if neg >= 0 {
		t.Errorf("negative sample decoded to %d", neg)
	}
	if pos != -neg {
		t.Errorf("codec not symmetric: +1000 -> %d, -1000 -> %d", pos, neg)
	}
}

// TestULawRoundTrip checks that round-tripped samples stay within the
// quantisation error of the 8-bit companding curve.
func TestULawRoundTrip(t *testing.T) {
	for _, s := range []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000, 32635} {
		got := DecodeULawSample(EncodeULawSample(s))
		diff := int32(got) - int32(s)
		if diff < 0 {
			diff = -diff
		}
		// Quantisation step grows with magnitude; 1/16 of the value plus a
		// small constant bounds it across all eight segments.
		limit := int32(s)/16 + 16
		if limit < 0 {
			limit = -limit
		}
		if diff > limit {
			t.Errorf("round trip of %d gave %d (diff %d > %d)", s, got, diff, limit)
		}
	}
}

// TestULawClip checks that out-of-range magnitudes clip instead of wrapping.
func TestULawClip(t *testing.T) {
	max := DecodeULawSample(EncodeULawSample(32767))
	if max < 30000 {
		t.Errorf("clipped max decoded to %d, want near full scale", max)
	}
	min := DecodeULawSample(EncodeULawSample(-32768))
	if min > -30000 {
		t.Errorf("clipped min decoded to %d, want near negative full scale", min)
	}
}

// TestEncodeDecodeULawLengths checks the 2:1 byte relationship.
func TestEncodeDecodeULawLengths(t *testing.T) {
	pcm := make([]byte, 320) // 160 samples, one 20ms telephone frame
	ulaw := EncodeULaw(pcm)
	if len(ulaw) != 160 {
		t.Errorf("len(EncodeULaw) = %d, want 160", len(ulaw))
	}
	back := DecodeULaw(ulaw)
	if len(back) != 320 {
		t.Errorf("len(DecodeULaw) = %d, want 320", len(back))
	}
}

// TestResampleMono16_Identity checks that equal rates return the input as-is.
func TestResampleMono16_Identity(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	got := ResampleMono16(pcm, 8000, 8000)
	if !bytes.Equal(got, pcm) {
		t.Errorf("identity resample changed data: %v", got)
	}
}

// TestResampleMono16_Upsample checks the output length for 8k to 16k.
func TestResampleMono16_Upsample(t *testing.T) {
	pcm := make([]byte, 160*2) // 160 samples at 8kHz
	got := ResampleMono16(pcm, 8000, 16000)
	if len(got) != 320*2 {
		t.Errorf("len = %d, want %d", len(got), 320*2)
	}
}

// TestResampleMono16_Downsample checks the output length for 22050 to 8000.
func TestResampleMono16_Downsample(t *testing.T) {
	pcm := make([]byte, 22050*2) // one second
	got := ResampleMono16(pcm, 22050, 8000)
	if len(got) != 8000*2 {
		t.Errorf("len = %d, want %d", len(got), 8000*2)
	}
}

// TestResampleMono16_BadRates checks that non-positive rates are a no-op.
func TestResampleMono16_BadRates(t *testing.T) {
	pcm := []byte{1, 2}
	if got := ResampleMono16(pcm, 0, 8000); !bytes.Equal(got, pcm) {
		t.Errorf("zero src rate changed data")
	}
	if got := ResampleMono16(pcm, 8000, -1); !bytes.Equal(got, pcm) {
		t.Errorf("negative dst rate changed data")
	}
}

// TestEncodeWAVRoundTrip checks that EncodeWAV output parses back to the
// same format and data.
func TestEncodeWAVRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	wav := EncodeWAV(pcm, 8000)

	info, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Channels = %d, want 1", info.Channels)
	}
	if info.Bits != 16 {
		t.Errorf("Bits = %d, want 16", info.Bits)
	}
	if info.FormatTag != FormatTagPCM {
		t.Errorf("FormatTag = %d, want %d", info.FormatTag, FormatTagPCM)
	}
	if got := wav[info.DataOffset : info.DataOffset+info.DataLen]; !bytes.Equal(got, pcm) {
		t.Errorf("data = %v, want %v", got, pcm)
	}
}

// TestEncodeWAVULaw checks the mu-law format tag and 8-bit samples.
func TestEncodeWAVULaw(t *testing.T) {
	ulaw := []byte{0xFF, 0x7F, 0x80}
	wav := EncodeWAVULaw(ulaw, 8000)

	info, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.Bits != 8 {
		t.Errorf("Bits = %d, want 8", info.Bits)
	}
	if info.DataLen != len(ulaw) {
		t.Errorf("DataLen = %d, want %d", info.DataLen, len(ulaw))
	}
	if tag := binary.LittleEndian.Uint16(wav[20:22]); tag != FormatTagULaw {
		t.Errorf("format tag = %d, want %d", tag, FormatTagULaw)
	}
}

// TestParseWAV_BadInput checks rejection of non-WAV data.
func TestParseWAV_BadInput(t *testing.T) {
	cases := map[string][]byte{
		"too short":    {1, 2, 3},
		"not riff":     []byte("NOPExxxxWAVE"),
		"not wave":     []byte("RIFFxxxxNOPE"),
		"without data": append([]byte("RIFF\x00\x00\x00\x00WAVE"), []byte("fmt \x00\x00\x00\x00")...),
	}
	for name, data := range cases {
		if _, err := ParseWAV(data); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

// TestParseWAV_SkipsUnknownChunks checks that extra chunks before data are
// walked over, including odd-length padding.
func TestParseWAV_SkipsUnknownChunks(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // size, unchecked
	buf.WriteString("WAVE")

	// An odd-sized LIST chunk that must be padded to the next word boundary.
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{9, 9, 9, 0}) // 3 bytes + 1 pad

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // mono
	binary.Write(&buf, binary.LittleEndian, uint32(16000)) // rate
	binary.Write(&buf, binary.LittleEndian, uint32(32000)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))     // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))    // bits

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	buf.Write([]byte{1, 2, 3, 4})

	info, err := ParseWAV(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", info.SampleRate)
	}
	if info.DataLen != 4 {
		t.Errorf("DataLen = %d, want 4", info.DataLen)
	}
}
