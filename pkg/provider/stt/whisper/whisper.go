// Package whisper provides whisper.cpp-backed stt.Transcriber
// implementations.
//
// Two backends are available:
//
//   - Server: connects to a running whisper-server binary over its REST API
//     (POST /inference). Requests use verbose JSON output so the per-segment
//     no-speech probability the model reports can be surfaced to callers.
//
//   - Native: loads a GGML model directly through the whisper.cpp CGO
//     bindings, eliminating HTTP overhead entirely. The whisper.cpp static
//     library (libwhisper.a) and headers must be available at link time via
//     LIBRARY_PATH and C_INCLUDE_PATH.
//
// Usage:
//
//	t, err := whisper.NewServer("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	result, err := t.Transcribe(ctx, utterance.Samples, 16000)
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/aegisd/aegis/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16 for the signed little-endian PCM audio
	// whisper.cpp expects.
	bitsPerSample = 16

	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	inferenceEndpoint = "/inference"
)

// Compile-time assertion that Server implements stt.Transcriber.
var _ stt.Transcriber = (*Server)(nil)

// Option is a functional option shared by both backends.
type Option func(*options)

type options struct {
	language string
	model    string
	timeout  time.Duration
}

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(o *options) { o.language = lang }
}

// WithModel sets the model identifier forwarded to the whisper server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with, which is the default. Ignored by the native backend,
// which loads its model from a file path.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithTimeout sets the per-request HTTP timeout for the server backend.
// Defaults to 30 s. Ignored by the native backend.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// Server implements stt.Transcriber backed by a whisper-server HTTP endpoint.
// It is safe for concurrent use; each Transcribe call is an independent
// request.
type Server struct {
	serverURL  string
	language   string
	model      string
	httpClient *http.Client
}

// NewServer creates a Server that targets the whisper-server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func NewServer(serverURL string, opts ...Option) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	o := options{language: defaultLanguage, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   o.language,
		model:      o.model,
		httpClient: &http.Client{Timeout: o.timeout},
	}, nil
}

// inferenceSegment mirrors one entry of the verbose JSON segment list. Only
// the fields the gate needs are decoded.
type inferenceSegment struct {
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
	AvgLogProb   float64 `json:"avg_logprob"`
}

// inferenceResponse is the verbose JSON body returned by POST /inference.
type inferenceResponse struct {
	Text     string             `json:"text"`
	Segments []inferenceSegment `json:"segments"`
}

// Transcribe encodes the utterance as WAV, POSTs it to /inference as
// multipart form data, and reduces the per-segment metadata into one Result.
// The reported NoSpeechProb is the mean across segments; an empty segment
// list means the model heard nothing and yields 1.0.
func (s *Server) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Result, error) {
	if len(samples) == 0 {
		return stt.Result{NoSpeechProb: 1}, nil
	}

	wav := encodeWAV(samples, sampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if s.language != "" {
		if err := mw.WriteField("language", s.language); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+inferenceEndpoint, &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var decoded inferenceResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return reduceSegments(decoded), nil
}

// reduceSegments folds the verbose response into one Result.
func reduceSegments(r inferenceResponse) stt.Result {
	text := strings.TrimSpace(r.Text)
	if text == "" || len(r.Segments) == 0 {
		return stt.Result{Text: text, NoSpeechProb: 1}
	}

	var noSpeech, logProb float64
	for _, seg := range r.Segments {
		noSpeech += seg.NoSpeechProb
		logProb += seg.AvgLogProb
	}
	n := float64(len(r.Segments))

	// avg_logprob is ln(p) averaged over tokens; e^x maps it back to 0–1.
	confidence := clamp01(math.Exp(logProb / n))
	return stt.Result{
		Text:         text,
		NoSpeechProb: clamp01(noSpeech / n),
		Confidence:   confidence,
	}
}

// ---- helpers ----------------------------------------------------------------

// encodeWAV wraps 16-bit signed little-endian PCM samples in a standard
// RIFF/WAV container.
func encodeWAV(samples []int16, sampleRate int) []byte {
	const channels = 1
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(samples) * 2

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(s))
	}
	return buf
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
