package bounty

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"bountychain/core/events"
	"bountychain/core/types"
)

// maxRewardBits matches the width of stored ledger balances.
const maxRewardBits = 256

type registryState interface {
	BountyCounter() (uint64, bool, error)
	SetBountyCounter(count uint64) error
	BountyPut(*Bounty) error
	BountyGet(id uint64) (*Bounty, bool, error)
	EscrowVaultAddress(token string) ([20]byte, error)
	EscrowCredit(id uint64, token string, amt *big.Int) error
	EscrowDebit(id uint64, token string, amt *big.Int) error
}

// Ledger moves value between accounts. Transfers fail when the source
// balance is insufficient or the token or account is invalid.
type Ledger interface {
	Transfer(token string, from, to [20]byte, amount *big.Int) error
}

// Registry owns the bounty counter and the id-keyed bounty records and drives
// every lifecycle transition. It expects the host to run one operation at a
// time and to discard all writes of an operation that returns an error,
// except where PersistsOnFailure reports otherwise.
type Registry struct {
	state   registryState
	ledger  Ledger
	emitter events.Emitter
	nowFn   func() int64
	tokens  map[string]struct{}
}

// NewRegistry creates a registry with a no-op emitter and the wall clock.
func NewRegistry() *Registry {
	return &Registry{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the storage backend used by the registry.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetLedger configures the value-transfer backend.
func (r *Registry) SetLedger(ledger Ledger) { r.ledger = ledger }

// SetNowFunc overrides the time source. Primarily intended for tests to
// provide deterministic timestamps.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetTokens restricts rewards to the given token symbols. An empty list
// accepts any non-empty symbol.
func (r *Registry) SetTokens(symbols []string) {
	if len(symbols) == 0 {
		r.tokens = nil
		return
	}
	r.tokens = make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		normalized := strings.ToUpper(strings.TrimSpace(symbol))
		if normalized != "" {
			r.tokens[normalized] = struct{}{}
		}
	}
}

// NormalizeToken returns the canonical upper-case symbol or a validation
// error when the token is empty or not accepted by the registry.
func (r *Registry) NormalizeToken(symbol string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return "", fmt.Errorf("%w: token required", ErrValidation)
	}
	if r.tokens != nil {
		if _, ok := r.tokens[normalized]; !ok {
			return "", fmt.Errorf("%w: unsupported token %s", ErrValidation, symbol)
		}
	}
	return normalized, nil
}

func (r *Registry) emit(evt *types.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(bountyEvent{evt: evt})
}

func (r *Registry) now() int64 {
	if r == nil || r.nowFn == nil {
		return time.Now().Unix()
	}
	return r.nowFn()
}

func (r *Registry) counter() (uint64, error) {
	if r == nil || r.state == nil {
		return 0, errNilState
	}
	count, ok, err := r.state.BountyCounter()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotInitialized
	}
	return count, nil
}

func (r *Registry) load(id uint64) (*Bounty, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if _, err := r.counter(); err != nil {
		return nil, err
	}
	b, ok, err := r.state.BountyGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return b, nil
}

func (r *Registry) store(b *Bounty) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	return r.state.BountyPut(b)
}

func (r *Registry) transfer(token string, from, to [20]byte, amount *big.Int) error {
	if r.ledger == nil {
		return errNilLedger
	}
	if err := r.ledger.Transfer(token, from, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// Initialize establishes the counter at zero. It succeeds exactly once.
func (r *Registry) Initialize() error {
	if r == nil || r.state == nil {
		return errNilState
	}
	_, ok, err := r.state.BountyCounter()
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}
	if err := r.state.SetBountyCounter(0); err != nil {
		return err
	}
	r.emit(NewInitializedEvent())
	return nil
}

// Create escrows reward from creator into the registry vault and records a
// new Open bounty. The returned id is the new counter value. Titles and
// descriptions made only of whitespace count as empty, and rewards must fit
// in 256 bits.
func (r *Registry) Create(auth Authorizer, creator [20]byte, title, description, token string, reward *big.Int, deadline int64) (uint64, error) {
	count, err := r.counter()
	if err != nil {
		return 0, err
	}
	if err := requireCaller(auth, creator); err != nil {
		return 0, err
	}
	if reward == nil || reward.Sign() <= 0 {
		return 0, fmt.Errorf("%w: reward must be positive", ErrValidation)
	}
	if reward.BitLen() > maxRewardBits {
		return 0, fmt.Errorf("%w: reward exceeds %d bits", ErrValidation, maxRewardBits)
	}
	now := r.now()
	if deadline <= now {
		return 0, fmt.Errorf("%w: deadline must be in the future", ErrValidation)
	}
	if strings.TrimSpace(title) == "" {
		return 0, fmt.Errorf("%w: title cannot be empty", ErrValidation)
	}
	if strings.TrimSpace(description) == "" {
		return 0, fmt.Errorf("%w: description cannot be empty", ErrValidation)
	}
	normalized, err := r.NormalizeToken(token)
	if err != nil {
		return 0, err
	}
	if count == math.MaxUint64 {
		return 0, fmt.Errorf("bounty: counter exhausted")
	}
	vault, err := r.state.EscrowVaultAddress(normalized)
	if err != nil {
		return 0, err
	}
	amount := new(big.Int).Set(reward)
	if err := r.transfer(normalized, creator, vault, amount); err != nil {
		return 0, err
	}
	id := count + 1
	b := &Bounty{
		ID:          id,
		Creator:     creator,
		Title:       title,
		Description: description,
		Token:       normalized,
		Reward:      amount,
		Deadline:    deadline,
		Status:      StatusOpen,
		CreatedAt:   now,
	}
	if err := r.store(b); err != nil {
		return 0, err
	}
	if err := r.state.EscrowCredit(id, normalized, amount); err != nil {
		return 0, err
	}
	if err := r.state.SetBountyCounter(id); err != nil {
		return 0, err
	}
	r.emit(NewCreatedEvent(b))
	return id, nil
}

// SubmitSolution records solver's proof against an Open bounty. A proof URL
// made only of whitespace counts as empty. A submission after the deadline
// flips the bounty to Expired, keeps that write and fails with ErrExpired.
func (r *Registry) SubmitSolution(auth Authorizer, id uint64, solver [20]byte, proofURL string) error {
	if err := requireCaller(auth, solver); err != nil {
		return err
	}
	if strings.TrimSpace(proofURL) == "" {
		return fmt.Errorf("%w: proof url cannot be empty", ErrValidation)
	}
	b, err := r.load(id)
	if err != nil {
		return err
	}
	if b.Status != StatusOpen {
		return fmt.Errorf("%w: bounty %d is %s, not open", ErrInvalidState, id, b.Status)
	}
	if r.now() > b.Deadline {
		if err := r.expire(b); err != nil {
			return err
		}
		return fmt.Errorf("%w: bounty %d deadline %d has passed", ErrExpired, id, b.Deadline)
	}
	solverCopy := solver
	b.Solver = &solverCopy
	b.ProofURL = proofURL
	b.Status = StatusSubmitted
	if err := r.store(b); err != nil {
		return err
	}
	r.emit(NewSubmittedEvent(b))
	return nil
}

// ApproveSolution pays the escrowed reward to the pending solver. Only the
// stored creator may approve. The token must match the escrowed token.
func (r *Registry) ApproveSolution(auth Authorizer, id uint64, token string) error {
	b, err := r.load(id)
	if err != nil {
		return err
	}
	if err := requireCaller(auth, b.Creator); err != nil {
		return err
	}
	if b.Status != StatusSubmitted {
		return fmt.Errorf("%w: bounty %d has no pending solution", ErrInvalidState, id)
	}
	if b.Solver == nil {
		return fmt.Errorf("%w: bounty %d has no solver", ErrInvalidState, id)
	}
	if err := r.requireEscrowToken(b, token); err != nil {
		return err
	}
	vault, err := r.state.EscrowVaultAddress(b.Token)
	if err != nil {
		return err
	}
	solver := *b.Solver
	if err := r.transfer(b.Token, vault, solver, b.Reward); err != nil {
		return err
	}
	if err := r.state.EscrowDebit(id, b.Token, b.Reward); err != nil {
		return err
	}
	b.Winner = &solver
	b.Solver = nil
	b.ProofURL = ""
	b.Status = StatusCompleted
	if err := r.store(b); err != nil {
		return err
	}
	r.emit(NewCompletedEvent(b))
	return nil
}

// RejectSolution clears the pending solution and reopens the bounty. No
// funds move.
func (r *Registry) RejectSolution(auth Authorizer, id uint64) error {
	b, err := r.load(id)
	if err != nil {
		return err
	}
	if err := requireCaller(auth, b.Creator); err != nil {
		return err
	}
	if b.Status != StatusSubmitted || b.Solver == nil {
		return fmt.Errorf("%w: bounty %d has no solution to reject", ErrInvalidState, id)
	}
	rejected := *b.Solver
	b.Solver = nil
	b.ProofURL = ""
	b.Status = StatusOpen
	if err := r.store(b); err != nil {
		return err
	}
	r.emit(NewRejectedEvent(b, rejected))
	return nil
}

// CancelBounty refunds the escrowed reward to the creator. Only Open
// bounties can be cancelled.
func (r *Registry) CancelBounty(auth Authorizer, id uint64, token string) error {
	b, err := r.load(id)
	if err != nil {
		return err
	}
	if err := requireCaller(auth, b.Creator); err != nil {
		return err
	}
	if b.Status != StatusOpen {
		return fmt.Errorf("%w: only open bounties can be cancelled, bounty %d is %s", ErrInvalidState, id, b.Status)
	}
	if err := r.requireEscrowToken(b, token); err != nil {
		return err
	}
	vault, err := r.state.EscrowVaultAddress(b.Token)
	if err != nil {
		return err
	}
	if err := r.transfer(b.Token, vault, b.Creator, b.Reward); err != nil {
		return err
	}
	if err := r.state.EscrowDebit(id, b.Token, b.Reward); err != nil {
		return err
	}
	b.Status = StatusCancelled
	if err := r.store(b); err != nil {
		return err
	}
	r.emit(NewCancelledEvent(b))
	return nil
}

// ExpireOverdue marks an Open bounty whose deadline has passed as Expired.
// It performs the same transition a late submission triggers and moves no
// funds. Anyone may invoke it.
func (r *Registry) ExpireOverdue(id uint64) error {
	b, err := r.load(id)
	if err != nil {
		return err
	}
	if b.Status != StatusOpen {
		return fmt.Errorf("%w: bounty %d is %s, not open", ErrInvalidState, id, b.Status)
	}
	if r.now() <= b.Deadline {
		return fmt.Errorf("%w: bounty %d deadline not reached", ErrInvalidState, id)
	}
	return r.expire(b)
}

func (r *Registry) expire(b *Bounty) error {
	b.Status = StatusExpired
	if err := r.store(b); err != nil {
		return err
	}
	r.emit(NewExpiredEvent(b))
	return nil
}

func (r *Registry) requireEscrowToken(b *Bounty, token string) error {
	normalized := strings.ToUpper(strings.TrimSpace(token))
	if normalized != b.Token {
		return fmt.Errorf("%w: bounty %d is escrowed in %s, not %q", ErrValidation, b.ID, b.Token, token)
	}
	return nil
}
