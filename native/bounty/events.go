package bounty

import (
	"strconv"

	"bountychain/core/types"
	"bountychain/crypto"
)

const (
	EventTypeRegistryInitialized = "bounty.initialized"
	EventTypeBountyCreated       = "bounty.created"
	EventTypeSolutionSubmitted   = "bounty.solution_submitted"
	EventTypeBountyCompleted     = "bounty.completed"
	EventTypeSolutionRejected    = "bounty.solution_rejected"
	EventTypeBountyCancelled     = "bounty.cancelled"
	EventTypeBountyExpired       = "bounty.expired"
)

type bountyEvent struct {
	evt *types.Event
}

func (e bountyEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e bountyEvent) Event() *types.Event { return e.evt }

// NewInitializedEvent is emitted once when the registry counter is established.
func NewInitializedEvent() *types.Event {
	return &types.Event{Type: EventTypeRegistryInitialized, Attributes: map[string]string{"count": "0"}}
}

// NewCreatedEvent returns the payload for a newly escrowed bounty.
func NewCreatedEvent(b *Bounty) *types.Event {
	evt := newBountyEvent(EventTypeBountyCreated, b)
	if b != nil {
		evt.Attributes["deadline"] = strconv.FormatInt(b.Deadline, 10)
		evt.Attributes["createdAt"] = strconv.FormatInt(b.CreatedAt, 10)
	}
	return evt
}

// NewSubmittedEvent returns the payload for a pending solution.
func NewSubmittedEvent(b *Bounty) *types.Event {
	evt := newBountyEvent(EventTypeSolutionSubmitted, b)
	if b != nil && b.Solver != nil {
		evt.Attributes["solver"] = crypto.AddressFromBytes20(*b.Solver).String()
		evt.Attributes["proofUrl"] = b.ProofURL
	}
	return evt
}

// NewCompletedEvent returns the payload for a reward paid out to the solver.
func NewCompletedEvent(b *Bounty) *types.Event {
	evt := newBountyEvent(EventTypeBountyCompleted, b)
	if b != nil && b.Winner != nil {
		evt.Attributes["solver"] = crypto.AddressFromBytes20(*b.Winner).String()
	}
	return evt
}

// NewRejectedEvent returns the payload for a rejected solution. The rejected
// solver is carried explicitly because the record no longer holds it.
func NewRejectedEvent(b *Bounty, rejected [20]byte) *types.Event {
	evt := newBountyEvent(EventTypeSolutionRejected, b)
	evt.Attributes["solver"] = crypto.AddressFromBytes20(rejected).String()
	return evt
}

// NewCancelledEvent returns the payload for a reward refunded to the creator.
func NewCancelledEvent(b *Bounty) *types.Event { return newBountyEvent(EventTypeBountyCancelled, b) }

// NewExpiredEvent returns the payload for a bounty whose deadline lapsed.
func NewExpiredEvent(b *Bounty) *types.Event {
	evt := newBountyEvent(EventTypeBountyExpired, b)
	if b != nil {
		evt.Attributes["deadline"] = strconv.FormatInt(b.Deadline, 10)
	}
	return evt
}

func newBountyEvent(eventType string, b *Bounty) *types.Event {
	attrs := make(map[string]string)
	if b == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(b.ID, 10)
	attrs["creator"] = crypto.AddressFromBytes20(b.Creator).String()
	attrs["token"] = b.Token
	if b.Reward != nil {
		attrs["reward"] = b.Reward.String()
	} else {
		attrs["reward"] = "0"
	}
	attrs["status"] = b.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
