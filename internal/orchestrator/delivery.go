package orchestrator

import (
	"time"

	"github.com/MrWong99/babelcall/internal/chat"
)

// Step is one simulated delivery acknowledgement: After the previous step
// (or the optimistic insert, for the first step) the message moves to
// Status.
type Step struct {
	Status chat.Status
	After  time.Duration
}

// DeliveryPolicy decides how the simulated network acknowledges the local
// participant's messages and how long the simulated peer takes to answer.
type DeliveryPolicy interface {
	// Outgoing returns the status steps applied to a captured message.
	Outgoing() []Step

	// ReplyWait returns how long the peer "thinks" before a reply is
	// generated.
	ReplyWait() time.Duration
}

// SimulatedDelivery is a fixed-delay [DeliveryPolicy].
type SimulatedDelivery struct {
	Steps      []Step
	ReplyDelay time.Duration
}

// Outgoing implements [DeliveryPolicy].
func (d SimulatedDelivery) Outgoing() []Step { return d.Steps }

// ReplyWait implements [DeliveryPolicy].
func (d SimulatedDelivery) ReplyWait() time.Duration { return d.ReplyDelay }

// DefaultDelivery marks a message sent after half a second and lets the peer
// answer after two seconds.
func DefaultDelivery() SimulatedDelivery {
	return SimulatedDelivery{
		Steps:      []Step{{Status: chat.StatusSent, After: 500 * time.Millisecond}},
		ReplyDelay: 2 * time.Second,
	}
}

// InstantDelivery acknowledges immediately and answers without delay.
type InstantDelivery struct{}

// Outgoing implements [DeliveryPolicy].
func (InstantDelivery) Outgoing() []Step {
	return []Step{{Status: chat.StatusSent}}
}

// ReplyWait implements [DeliveryPolicy].
func (InstantDelivery) ReplyWait() time.Duration { return 0 }
