package stt

import "time"

// Encoding identifies the byte layout of request audio.
type Encoding string

const (
	// EncodingWAV is a RIFF/WAVE container; sample rate comes from the header.
	EncodingWAV Encoding = "wav"
	// EncodingPCM16 is raw little-endian signed 16-bit linear PCM.
	EncodingPCM16 Encoding = "pcm16"
	// EncodingULaw is raw G.711 mu-law, as captured off a telephone stream.
	EncodingULaw Encoding = "ulaw"
)

// Request is one complete utterance to transcribe.
type Request struct {
	// Audio is the clip. Must not be empty.
	Audio []byte
	// Encoding of Audio.
	Encoding Encoding
	// SampleRate in Hz. Required for raw encodings, ignored for WAV.
	SampleRate int
	// Language hint (e.g. "en"). Empty uses the adapter default.
	Language string
}

// Transcript is a completed transcription.
type Transcript struct {
	// Text is the recognised speech, whitespace-trimmed. Empty means the
	// clip held no recognisable speech.
	Text string
	// Confidence in [0, 1]; zero when the backend does not report it.
	Confidence float64
	// AudioDuration as measured by the backend; zero when unreported.
	AudioDuration time.Duration
}
