package tts

// Format identifies the encoding of synthesised audio.
type Format string

const (
	// FormatULaw is raw G.711 mu-law, the telephone media-stream format.
	FormatULaw Format = "ulaw"
	// FormatPCM16 is little-endian signed 16-bit linear PCM.
	FormatPCM16 Format = "pcm16"
	// FormatMP3 is MPEG audio, suitable for playback URLs.
	FormatMP3 Format = "mp3"
)

// Request describes one utterance to synthesise.
type Request struct {
	// Text is the sentence to speak. Must not be empty.
	Text string
	// Voice is the vendor voice ID. Empty selects the adapter default.
	Voice string
}

// Audio is a completed synthesis.
type Audio struct {
	Data       []byte
	Format     Format
	SampleRate int
}
