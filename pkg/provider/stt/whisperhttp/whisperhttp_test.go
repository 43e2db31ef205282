package whisperhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/havenline/havenline/pkg/audio"
	"github.com/havenline/havenline/pkg/provider/stt"
	"github.com/havenline/havenline/pkg/upstream"
)

// TestNew_EmptyServerURL checks that an empty server URL returns an error.
func TestNew_EmptyServerURL(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

// TestTranscribe_Success checks the multipart upload and response parsing.
func TestTranscribe_Success(t *testing.T) {
	var gotLang string
	var gotWAVRate int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path = %q, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotLang = r.FormValue("language")

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			defer file.Close()
			buf := make([]byte, 64)
			n, _ := file.Read(buf)
			if info, err := audio.ParseWAV(buf[:n]); err == nil {
				gotWAVRate = info.SampleRate
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": " I need a safe place to stay. "}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Transcribe(context.Background(), stt.Request{
		Audio:      make([]byte, 160), // 20ms of mu-law at 8kHz
		Encoding:   stt.EncodingULaw,
		SampleRate: 8000,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "I need a safe place to stay." {
		t.Errorf("Text = %q, want trimmed transcript", got.Text)
	}
	if gotLang != "en" {
		t.Errorf("language = %q, want en", gotLang)
	}
	if gotWAVRate != whisperRate {
		t.Errorf("uploaded WAV rate = %d, want %d", gotWAVRate, whisperRate)
	}
}

// TestTranscribe_EmptyAudio checks the fail-fast validation path.
func TestTranscribe_EmptyAudio(t *testing.T) {
	p, err := New("http://localhost:8080")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Transcribe(context.Background(), stt.Request{})
	if !upstream.IsKind(err, upstream.KindValidationFailed) {
		t.Errorf("kind = %v, want ValidationFailed", upstream.KindOf(err))
	}
}

// TestTranscribe_ServerError checks HTTP status classification.
func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Transcribe(context.Background(), stt.Request{
		Audio: []byte{0xFF}, Encoding: stt.EncodingULaw, SampleRate: 8000,
	})
	if !upstream.IsKind(err, upstream.KindUpstream5xx) {
		t.Errorf("kind = %v, want Upstream5xx", upstream.KindOf(err))
	}
}

// TestTranscribe_ServerReportedError checks the in-body error field.
func TestTranscribe_ServerReportedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error": "model not loaded"}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Transcribe(context.Background(), stt.Request{
		Audio: []byte{0xFF}, Encoding: stt.EncodingULaw, SampleRate: 8000,
	})
	if !upstream.IsKind(err, upstream.KindUpstream5xx) {
		t.Errorf("kind = %v, want Upstream5xx", upstream.KindOf(err))
	}
}

// TestNormaliseToWAV checks each accepted input encoding.
func TestNormaliseToWAV(t *testing.T) {
	tests := []struct {
		name string
		req  stt.Request
	}{
		{"ulaw", stt.Request{Audio: make([]byte, 80), Encoding: stt.EncodingULaw, SampleRate: 8000}},
		{"pcm16", stt.Request{Audio: make([]byte, 160), Encoding: stt.EncodingPCM16, SampleRate: 8000}},
		{"wav", stt.Request{Audio: audio.EncodeWAV(make([]byte, 160), 8000), Encoding: stt.EncodingWAV}},
		{"wav ulaw", stt.Request{Audio: audio.EncodeWAVULaw(make([]byte, 80), 8000), Encoding: stt.EncodingWAV}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wav, err := normaliseToWAV(tt.req)
			if err != nil {
				t.Fatalf("normaliseToWAV: %v", err)
			}
			info, err := audio.ParseWAV(wav)
			if err != nil {
				t.Fatalf("ParseWAV: %v", err)
			}
			if info.SampleRate != whisperRate {
				t.Errorf("rate = %d, want %d", info.SampleRate, whisperRate)
			}
			if info.Bits != 16 || info.Channels != 1 {
				t.Errorf("format = %d bits %d ch, want 16-bit mono", info.Bits, info.Channels)
			}
		})
	}
}

// TestNormaliseToWAV_Rejections checks the inputs the adapter refuses.
func TestNormaliseToWAV_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  stt.Request
	}{
		{"raw pcm without rate", stt.Request{Audio: []byte{1, 2}, Encoding: stt.EncodingPCM16}},
		{"raw ulaw without rate", stt.Request{Audio: []byte{1}, Encoding: stt.EncodingULaw}},
		{"unknown encoding", stt.Request{Audio: []byte{1}, Encoding: "opus"}},
		{"garbage wav", stt.Request{Audio: []byte{1, 2, 3}, Encoding: stt.EncodingWAV}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := normaliseToWAV(tt.req); err == nil {
				t.Error("expected error")
			}
		})
	}
}
