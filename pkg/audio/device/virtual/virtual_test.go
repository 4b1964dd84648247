package virtual_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/audio/device/virtual"
	"github.com/MrWong99/babelcall/pkg/audio/playback"
)

// oneSecond is a second of silence at the speech format.
func oneSecond() *audio.Buffer {
	return &audio.Buffer{Samples: make([]float32, audio.SpeechSampleRate), Format: audio.SpeechFormat}
}

func TestDevice_CompletesAfterScaledDuration(t *testing.T) {
	t.Parallel()

	var sunk int
	d := virtual.New(virtual.WithSpeed(50), virtual.WithSink(func(*audio.Buffer) { sunk++ }))
	start := time.Now()
	v, err := d.Play(oneSecond())
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	select {
	case <-v.Done():
	case <-time.After(time.Second):
		t.Fatal("voice never completed")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("completed after %v, want about 20ms", elapsed)
	}
	if v.Err() != nil {
		t.Errorf("Err = %v", v.Err())
	}
	if sunk != 1 {
		t.Errorf("sink called %d times, want 1", sunk)
	}
}

func TestDevice_SuspendPausesPlayback(t *testing.T) {
	t.Parallel()

	d := virtual.New(virtual.WithSpeed(50))
	v, _ := d.Play(oneSecond())
	_ = d.Suspend()
	if !d.Suspended() {
		t.Fatal("Suspended() = false after Suspend")
	}

	select {
	case <-v.Done():
		t.Fatal("voice completed while suspended")
	case <-time.After(60 * time.Millisecond):
	}

	_ = d.Resume()
	select {
	case <-v.Done():
	case <-time.After(time.Second):
		t.Fatal("voice did not complete after Resume")
	}
}

func TestDevice_StopAndClose(t *testing.T) {
	t.Parallel()

	d := virtual.New()
	v, _ := d.Play(oneSecond())
	v.Stop()
	v.Stop()
	select {
	case <-v.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	w, _ := d.Play(oneSecond())
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-w.Done():
	default:
		t.Fatal("Close did not stop the playing voice")
	}
	if _, err := d.Play(oneSecond()); !errors.Is(err, virtual.ErrClosed) {
		t.Errorf("Play after Close = %v, want ErrClosed", err)
	}
}

func TestDevice_DrivesQueue(t *testing.T) {
	t.Parallel()

	var order []int
	d := virtual.New(virtual.WithSpeed(200), virtual.WithSink(func(b *audio.Buffer) {
		order = append(order, len(b.Samples))
	}))
	q := playback.New()
	t.Cleanup(func() { _ = q.Close() })
	q.SetOutputDevice(d)

	for i := 1; i <= 3; i++ {
		_ = q.Enqueue(&audio.Buffer{Samples: make([]float32, i*2400), Format: audio.SpeechFormat})
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if q.State() == playback.Idle && q.Pending() == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(order) != 3 || order[0] != 2400 || order[1] != 4800 || order[2] != 7200 {
		t.Errorf("play order = %v, want [2400 4800 7200]", order)
	}
}
