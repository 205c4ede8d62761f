package whisper

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aegisd/aegis/pkg/provider/stt"
)

func TestReduceSegments_MeansNoSpeechProb(t *testing.T) {
	t.Parallel()

	got := reduceSegments(inferenceResponse{
		Text: "activate guard mode",
		Segments: []inferenceSegment{
			{Text: "activate", NoSpeechProb: 0.1, AvgLogProb: -0.1},
			{Text: "guard mode", NoSpeechProb: 0.3, AvgLogProb: -0.3},
		},
	})
	if got.Text != "activate guard mode" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.NoSpeechProb < 0.19 || got.NoSpeechProb > 0.21 {
		t.Errorf("NoSpeechProb = %f, want 0.2 (mean)", got.NoSpeechProb)
	}
	if got.Confidence <= 0 || got.Confidence >= 1 {
		t.Errorf("Confidence = %f, want within (0, 1)", got.Confidence)
	}
}

func TestReduceSegments_EmptyMeansNoSpeech(t *testing.T) {
	t.Parallel()

	got := reduceSegments(inferenceResponse{Text: "  "})
	if got.NoSpeechProb != 1 {
		t.Errorf("NoSpeechProb = %f for empty response, want 1", got.NoSpeechProb)
	}
	if got.IsSpeech(0) {
		t.Error("empty response must not count as speech")
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1000, -1000, 32767}
	wav := encodeWAV(samples, 16000)

	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE header")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(samples)*2) {
		t.Errorf("data size = %d, want %d", got, len(samples)*2)
	}
	if got := int16(binary.LittleEndian.Uint16(wav[46:48])); got != 1000 {
		t.Errorf("second sample = %d, want 1000", got)
	}
}

func TestServer_Transcribe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != inferenceEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, inferenceEndpoint)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q, want verbose_json", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q, want en", got)
		}
		json.NewEncoder(w).Encode(inferenceResponse{
			Text: "stand down",
			Segments: []inferenceSegment{
				{Text: "stand down", NoSpeechProb: 0.05, AvgLogProb: -0.2},
			},
		})
	}))
	defer srv.Close()

	tr, err := NewServer(srv.URL)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	got, err := tr.Transcribe(context.Background(), []int16{100, 200, 300}, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "stand down" {
		t.Errorf("Text = %q, want %q", got.Text, "stand down")
	}
	if !got.IsSpeech(0) {
		t.Errorf("result not recognised as speech: %+v", got)
	}
}

func TestServer_TranscribeEmptyUtterance(t *testing.T) {
	t.Parallel()

	// No HTTP call should be made for an empty utterance.
	tr, err := NewServer("http://localhost:1")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	got, err := tr.Transcribe(context.Background(), nil, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.NoSpeechProb != 1 {
		t.Errorf("NoSpeechProb = %f, want 1", got.NoSpeechProb)
	}
}

func TestServer_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr, err := NewServer(srv.URL)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), []int16{1, 2, 3}, 16000); err == nil {
		t.Error("expected error for HTTP 500")
	}
}

func TestResult_IsSpeechCutoff(t *testing.T) {
	t.Parallel()

	r := stt.Result{Text: "hello", NoSpeechProb: 0.5}
	if r.IsSpeech(0) {
		t.Error("NoSpeechProb at the cutoff must not count as speech")
	}
	r.NoSpeechProb = 0.49
	if !r.IsSpeech(0) {
		t.Error("NoSpeechProb below the cutoff must count as speech")
	}
}
