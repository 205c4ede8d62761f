package camera

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSource_EmitsSnapshots(t *testing.T) {
	t.Parallel()

	snapshot := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(snapshot)
	}))
	defer srv.Close()

	src, err := New(Config{URL: srv.URL, Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer src.Close()

	select {
	case f := <-src.Frames():
		if string(f.Image) != string(snapshot) {
			t.Errorf("frame image = %v, want %v", f.Image, snapshot)
		}
		if f.Timestamp.IsZero() {
			t.Error("frame timestamp is zero")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame within deadline")
	}
}

func TestSource_CloseEndsStreamCleanly(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{1})
	}))
	defer srv.Close()

	src, err := New(Config{URL: srv.URL, Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-src.Frames():
			if !ok {
				if src.Err() != nil {
					t.Errorf("Err = %v, want nil after clean close", src.Err())
				}
				return
			}
		case <-deadline:
			t.Fatal("frame channel did not close")
		}
	}
}

func TestSource_RepeatedFailuresReportCaptureLost(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src, err := New(Config{URL: srv.URL, Interval: time.Millisecond, MaxFailures: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer src.Close()

	select {
	case _, ok := <-src.Frames():
		if ok {
			t.Fatal("unexpected frame from failing endpoint")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame channel did not close")
	}

	if !errors.Is(src.Err(), ErrCaptureLost) {
		t.Errorf("Err = %v, want ErrCaptureLost", src.Err())
	}
}

func TestSource_TransientFailureRecovers(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte{7})
	}))
	defer srv.Close()

	src, err := New(Config{URL: srv.URL, Interval: time.Millisecond, MaxFailures: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer src.Close()

	select {
	case f, ok := <-src.Frames():
		if !ok {
			t.Fatalf("channel closed early: %v", src.Err())
		}
		if len(f.Image) != 1 || f.Image[0] != 7 {
			t.Errorf("frame image = %v, want [7]", f.Image)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame within deadline")
	}
}

func TestNew_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
