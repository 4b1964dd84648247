package orchestrator

import (
	"testing"
	"time"
)

func TestIndicator_ClearAfter(t *testing.T) {
	t.Parallel()

	in := NewIndicator(nil)
	in.Set("u1")
	in.ClearAfter("u1", 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if got := in.Current(); got != "" {
		t.Errorf("Current() = %q after grace, want empty", got)
	}
}

func TestIndicator_ClearAfterSkipsNewSpeaker(t *testing.T) {
	t.Parallel()

	in := NewIndicator(nil)
	in.Set("u1")
	in.ClearAfter("u1", 5*time.Millisecond)
	in.Set("u2")
	time.Sleep(30 * time.Millisecond)
	if got := in.Current(); got != "u2" {
		t.Errorf("Current() = %q, want u2", got)
	}

	// The same speaker set again restarts the grace period.
	in.Set("u1")
	in.ClearAfter("u1", 5*time.Millisecond)
	in.Set("u1")
	time.Sleep(30 * time.Millisecond)
	if got := in.Current(); got != "u1" {
		t.Errorf("Current() = %q, want u1 still shown", got)
	}
}

func TestIndicator_BusyNests(t *testing.T) {
	t.Parallel()

	in := NewIndicator(nil)
	in.SetBusy(true)
	in.SetBusy(true)
	in.SetBusy(false)
	if !in.State().Busy {
		t.Error("busy cleared while a reply is still in flight")
	}
	in.SetBusy(false)
	in.SetBusy(false)
	if in.State().Busy {
		t.Error("still busy")
	}
}

func TestIndicator_OnChangeOnlyOnChange(t *testing.T) {
	t.Parallel()

	var n int
	in := NewIndicator(func(IndicatorState) { n++ })
	in.Set("u1")
	in.Set("u1")
	in.SetBusy(false)
	if n != 1 {
		t.Errorf("onChange called %d times, want 1", n)
	}
}

func TestIndicator_Stop(t *testing.T) {
	t.Parallel()

	in := NewIndicator(nil)
	in.Set("u1")
	in.SetBusy(true)
	in.ClearAfter("u1", time.Millisecond)
	in.Stop()

	if in.State() != (IndicatorState{}) {
		t.Errorf("state after Stop = %+v", in.State())
	}
	in.Set("u2")
	in.ClearAfter("u2", time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if in.Current() != "u2" {
		t.Error("ClearAfter ran after Stop")
	}
}

func TestDeliveryPolicies(t *testing.T) {
	t.Parallel()

	d := DefaultDelivery()
	if len(d.Outgoing()) != 1 || d.Outgoing()[0].After != 500*time.Millisecond || d.ReplyWait() != 2*time.Second {
		t.Errorf("DefaultDelivery = %+v", d)
	}
	var inst InstantDelivery
	if inst.ReplyWait() != 0 || inst.Outgoing()[0].After != 0 {
		t.Error("InstantDelivery is not instant")
	}
}
