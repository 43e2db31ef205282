package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/havenline/havenline/pkg/provider/stt"
	sttmock "github.com/havenline/havenline/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{
		TranscribeResult: &stt.Transcript{Text: "from primary", Confidence: 0.9},
	}
	secondary := &sttmock.Provider{
		TranscribeResult: &stt.Transcript{Text: "from secondary"},
	}

	fb := NewSTTFallback("primary", primary)
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), stt.Request{
		Audio:    []byte{0x01, 0x02},
		Encoding: stt.EncodingWAV,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "from primary" {
		t.Fatalf("text = %q, want 'from primary'", tr.Text)
	}
	if len(primary.Calls()) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.Calls()))
	}
	if len(secondary.Calls()) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls()))
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Provider{
		TranscribeErr: errors.New("primary down"),
	}
	secondary := &sttmock.Provider{
		TranscribeResult: &stt.Transcript{Text: "from secondary"},
	}

	fb := NewSTTFallback("primary", primary)
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), stt.Request{
		Audio:      []byte{0x01, 0x02},
		Encoding:   stt.EncodingULaw,
		SampleRate: 8000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "from secondary" {
		t.Fatalf("text = %q, want 'from secondary'", tr.Text)
	}

	calls := secondary.Calls()
	if len(calls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(calls))
	}
	if calls[0].Req.SampleRate != 8000 {
		t.Fatalf("sample rate = %d, want 8000", calls[0].Req.SampleRate)
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errors.New("primary down")}
	secondary := &sttmock.Provider{TranscribeErr: errors.New("secondary down")}

	fb := NewSTTFallback("primary", primary)
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), stt.Request{Audio: []byte{0x01}})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
