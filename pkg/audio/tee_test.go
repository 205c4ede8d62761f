package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aegisd/aegis/pkg/audio"
	"github.com/aegisd/aegis/pkg/audio/mock"
)

func frame(tag int16) []int16 {
	return []int16{tag, tag, tag}
}

// startTee runs the tee in the background and returns a wait function for its
// result.
func startTee(t *testing.T, tee *audio.Tee) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- tee.Run(ctx) }()
	return func() error {
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("tee did not stop")
			return nil
		}
	}
}

// drainTags collects the first sample of every frame left on a closed tap.
func drainTags(tap *audio.Tap) []int16 {
	var tags []int16
	for f := range tap.Frames() {
		tags = append(tags, f.Samples[0])
	}
	return tags
}

func TestTee_EveryTapSeesEveryFrame(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(8)
	tee := audio.NewTee(src)
	first := tee.Tap(8)
	second := tee.Tap(8)
	wait := startTee(t, tee)

	src.Push(frame(1))
	src.Push(frame(2))
	src.Push(frame(3))
	src.Close()

	if err := wait(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []int16{1, 2, 3}
	for name, tap := range map[string]*audio.Tap{"first": first, "second": second} {
		got := drainTags(tap)
		if len(got) != len(want) {
			t.Fatalf("%s tap saw %v, want %v", name, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s tap frame %d = %d, want %d", name, i, got[i], want[i])
			}
		}
	}
	if err := first.Err(); err != nil {
		t.Errorf("Err after clean close = %v, want nil", err)
	}
}

func TestTee_ClosedTapDetachesWithoutStoppingOthers(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(8)
	tee := audio.NewTee(src)
	main := tee.Tap(8)
	wait := startTee(t, tee)

	temp := tee.Tap(0)
	src.Push(frame(1))

	// The temporary consumer leaves; the main tap must keep receiving.
	if err := temp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	src.Push(frame(2))
	src.Close()

	if err := wait(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := drainTags(main)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("main tap saw %v, want [1 2]", got)
	}
}

func TestTee_CaptureLossReachesEveryTap(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(8)
	tee := audio.NewTee(src)
	tap := tee.Tap(8)
	wait := startTee(t, tee)

	src.Push(frame(1))
	src.Lose()

	// The tee itself ends cleanly; the loss travels with the tap stream.
	if err := wait(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := drainTags(tap); len(got) != 1 {
		t.Fatalf("tap saw %v, want the one frame before the loss", got)
	}
	if err := tap.Err(); !errors.Is(err, audio.ErrCaptureLost) {
		t.Errorf("Err = %v, want ErrCaptureLost", err)
	}
}

func TestTee_StalledTapDropsOldestFrame(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(8)
	tee := audio.NewTee(src)
	tap := tee.Tap(1)
	wait := startTee(t, tee)

	src.Push(frame(1))
	src.Push(frame(2))
	src.Push(frame(3))
	src.Close()

	if err := wait(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := drainTags(tap)
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("stalled tap saw %v, want only the newest frame [3]", got)
	}
}

func TestTap_OpenedAfterSourceEndIsClosed(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(8)
	tee := audio.NewTee(src)
	wait := startTee(t, tee)

	src.Lose()
	if err := wait(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	tap := tee.Tap(4)
	if _, ok := <-tap.Frames(); ok {
		t.Error("late tap delivered a frame, want a closed stream")
	}
	if err := tap.Err(); !errors.Is(err, audio.ErrCaptureLost) {
		t.Errorf("Err = %v, want ErrCaptureLost", err)
	}
}
