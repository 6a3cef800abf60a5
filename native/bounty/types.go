package bounty

import (
	"fmt"
	"math/big"
	"strings"
)

// Status represents the lifecycle state of a bounty.
type Status uint8

const (
	StatusOpen Status = iota
	StatusSubmitted
	StatusCompleted
	StatusExpired
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusSubmitted, StatusCompleted, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leaves the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusCancelled
}

// Escrowed reports whether a bounty in this status still holds its reward.
// Expired bounties keep their reward locked in the vault.
func (s Status) Escrowed() bool {
	return s == StatusOpen || s == StatusSubmitted || s == StatusExpired
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusSubmitted:
		return "submitted"
	case StatusCompleted:
		return "completed"
	case StatusExpired:
		return "expired"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseStatus converts the textual status back into its enum value.
func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "open":
		return StatusOpen, nil
	case "submitted":
		return StatusSubmitted, nil
	case "completed":
		return StatusCompleted, nil
	case "expired":
		return StatusExpired, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return 0, fmt.Errorf("bounty: unknown status %q", value)
	}
}

// Bounty is a single escrowed task. ID, Creator, Title, Description, Token,
// Reward and CreatedAt never change after creation. Solver and ProofURL are
// only populated while the bounty is Submitted; Winner records the paid
// solver once the bounty is Completed.
type Bounty struct {
	ID          uint64
	Creator     [20]byte
	Title       string
	Description string
	Token       string
	Reward      *big.Int
	Deadline    int64
	Solver      *[20]byte
	ProofURL    string
	Winner      *[20]byte
	Status      Status
	CreatedAt   int64
}

// Clone returns a deep copy of the bounty so callers can safely mutate the
// copy without affecting the stored instance.
func (b *Bounty) Clone() *Bounty {
	if b == nil {
		return nil
	}
	clone := *b
	if b.Reward != nil {
		clone.Reward = new(big.Int).Set(b.Reward)
	} else {
		clone.Reward = big.NewInt(0)
	}
	if b.Solver != nil {
		solver := *b.Solver
		clone.Solver = &solver
	}
	if b.Winner != nil {
		winner := *b.Winner
		clone.Winner = &winner
	}
	return &clone
}

// SanitizeBounty validates a stored bounty and returns a normalised copy. It
// enforces the structural invariants every persisted record must satisfy.
func SanitizeBounty(b *Bounty) (*Bounty, error) {
	if b == nil {
		return nil, fmt.Errorf("bounty: nil record")
	}
	clone := b.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("bounty: id must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("bounty: invalid status %d", clone.Status)
	}
	if clone.Reward.Sign() <= 0 {
		return nil, fmt.Errorf("bounty: reward must be positive")
	}
	clone.Token = strings.ToUpper(strings.TrimSpace(clone.Token))
	if clone.Token == "" {
		return nil, fmt.Errorf("bounty: token required")
	}
	if (clone.Solver != nil) != (clone.Status == StatusSubmitted) {
		return nil, fmt.Errorf("bounty: solver must be set exactly when submitted")
	}
	if clone.Status != StatusSubmitted && clone.ProofURL != "" {
		return nil, fmt.Errorf("bounty: proof url only allowed when submitted")
	}
	if (clone.Winner != nil) != (clone.Status == StatusCompleted) {
		return nil, fmt.Errorf("bounty: winner must be set exactly when completed")
	}
	return clone, nil
}
