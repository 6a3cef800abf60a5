package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bountychain/core/events"
	chainstate "bountychain/core/state"
	"bountychain/native/bounty"
	"bountychain/observability/metrics"
	telemetry "bountychain/observability/otel"
	"bountychain/storage"
)

var (
	// ErrNonceMismatch is returned when an authorization carries a nonce other
	// than the signer's next expected nonce.
	ErrNonceMismatch = errors.New("core: nonce mismatch")
	// ErrGenesisApplied is returned when allocations were already written.
	ErrGenesisApplied = errors.New("core: genesis allocations already applied")
)

// Authorization is the host's proof that Signer approved the current call.
// The RPC layer builds it after recovering Signer from a signature over the
// call fields and Nonce.
type Authorization struct {
	Signer [20]byte
	Nonce  uint64
}

// RequireAuth implements bounty.Authorizer.
func (a *Authorization) RequireAuth(addr [20]byte) error {
	if a == nil {
		return fmt.Errorf("missing authorization")
	}
	if a.Signer != addr {
		return fmt.Errorf("signer %x does not control %x", a.Signer, addr)
	}
	return nil
}

// Allocation credits Amount of Token to Address at genesis.
type Allocation struct {
	Address [20]byte
	Token   string
	Amount  *big.Int
}

// NodeOptions wires optional collaborators into a Node.
type NodeOptions struct {
	// Tokens restricts bounty rewards to these symbols. Empty accepts any.
	Tokens []string
	// Now overrides the unix-seconds clock.
	Now func() int64
	// Emitter receives committed events in addition to the node's feed.
	Emitter      events.Emitter
	Logger       *slog.Logger
	Metrics      *metrics.BountyMetrics
	AllowMigrate bool
}

// Node binds the bounty registry to storage, the token ledger, the clock and
// event sinks. Every mutation runs on its own journal under stateMu so it
// either commits completely or leaves no trace.
type Node struct {
	db      storage.Database
	stateMu sync.Mutex
	tokens  []string
	nowFn   func() int64
	emitter events.Emitter
	feed    *events.Feed
	logger  *slog.Logger
	metrics *metrics.BountyMetrics
}

// NewNode opens the node over db, stamping or checking the schema version.
func NewNode(db storage.Database, opts NodeOptions) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	if err := chainstate.EnsureStateVersion(db, opts.AllowMigrate); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = func() int64 { return time.Now().Unix() }
	}
	feed := events.NewFeed()
	return &Node{
		db:      db,
		tokens:  append([]string(nil), opts.Tokens...),
		nowFn:   nowFn,
		emitter: events.Multi{feed, opts.Emitter},
		feed:    feed,
		logger:  logger.With(slog.String("component", "node")),
		metrics: opts.Metrics,
	}, nil
}

// Events returns the live feed of committed events.
func (n *Node) Events() *events.Feed { return n.feed }

// Now returns the node clock in unix seconds.
func (n *Node) Now() int64 { return n.nowFn() }

func (n *Node) newRegistry(manager *chainstate.Manager, emitter events.Emitter) *bounty.Registry {
	registry := bounty.NewRegistry()
	registry.SetState(manager)
	registry.SetLedger(manager)
	registry.SetEmitter(emitter)
	registry.SetNowFunc(n.nowFn)
	registry.SetTokens(n.tokens)
	return registry
}

type mutation func(registry *bounty.Registry, manager *chainstate.Manager) error

// mutate runs fn on a fresh journal. Writes are committed when fn succeeds or
// when its error still persists state, and discarded otherwise. Buffered
// events reach subscribers only after a successful commit.
func (n *Node) mutate(ctx context.Context, action string, auth *Authorization, fn mutation) error {
	_, span := telemetry.Tracer().Start(ctx, "bounty."+action)
	defer span.End()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	journal := storage.NewJournal(n.db)
	manager := chainstate.NewManager(journal)
	buffer := &events.Buffer{}

	err := n.consumeNonce(manager, auth)
	if err == nil {
		err = fn(n.newRegistry(manager, buffer), manager)
	}
	if err != nil && !bounty.PersistsOnFailure(err) {
		journal.Discard()
		n.reject(action, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if commitErr := journal.Commit(); commitErr != nil {
		n.reject(action, commitErr)
		span.RecordError(commitErr)
		span.SetStatus(codes.Error, commitErr.Error())
		return fmt.Errorf("core: commit %s: %w", action, commitErr)
	}

	committed := buffer.Events()
	buffer.Flush(n.emitter)
	n.refreshEscrowGauge(committed)
	span.SetAttributes(attribute.Int("bounty.events", len(committed)))
	if err != nil {
		n.reject(action, err)
		span.RecordError(err)
		return err
	}
	n.metrics.ObserveTransition(action)
	level := slog.LevelInfo
	if len(committed) == 0 {
		level = slog.LevelDebug
	}
	n.logger.LogAttrs(ctx, level, "bounty transition committed",
		slog.String("action", action),
		slog.String("outcome", "ok"),
		slog.Int("events", len(committed)))
	return nil
}

func (n *Node) consumeNonce(manager *chainstate.Manager, auth *Authorization) error {
	if auth == nil {
		return nil
	}
	expected, err := manager.Nonce(auth.Signer)
	if err != nil {
		return err
	}
	if auth.Nonce != expected {
		return fmt.Errorf("%w: expected %d, got %d", ErrNonceMismatch, expected, auth.Nonce)
	}
	return manager.SetNonce(auth.Signer, expected+1)
}

func (n *Node) reject(action string, err error) {
	n.metrics.ObserveRejection(action, reasonOf(err))
	n.logger.Warn("bounty operation rejected",
		slog.String("action", action),
		slog.String("outcome", reasonOf(err)),
		slog.String("error", err.Error()))
}

func (n *Node) refreshEscrowGauge(committed []events.Event) {
	if n.metrics == nil {
		return
	}
	seen := make(map[string]struct{})
	manager := chainstate.NewManager(n.db)
	for _, evt := range committed {
		payload := events.ToPayload(evt)
		token := payload.Attr("token")
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		if balance, err := manager.Balance(chainstate.BountyVaultAddress(), token); err == nil {
			n.metrics.SetEscrowLocked(token, balance)
		}
	}
}

func reasonOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, bounty.ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, bounty.ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, bounty.ErrValidation):
		return "validation"
	case errors.Is(err, bounty.ErrNotFound):
		return "not_found"
	case errors.Is(err, bounty.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, bounty.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, bounty.ErrExpired):
		return "expired"
	case errors.Is(err, bounty.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrNonceMismatch):
		return "nonce"
	default:
		return "internal"
	}
}

// Initialize establishes the bounty counter. It succeeds exactly once.
func (n *Node) Initialize(ctx context.Context) error {
	return n.mutate(ctx, "initialize", nil, func(registry *bounty.Registry, _ *chainstate.Manager) error {
		return registry.Initialize()
	})
}

// CreateBounty escrows reward from the signer and returns the new bounty id.
func (n *Node) CreateBounty(ctx context.Context, auth *Authorization, title, description, token string, reward *big.Int, deadline int64) (uint64, error) {
	if auth == nil {
		return 0, fmt.Errorf("%w: authorization required", bounty.ErrUnauthorized)
	}
	var id uint64
	err := n.mutate(ctx, "create", auth, func(registry *bounty.Registry, _ *chainstate.Manager) error {
		var err error
		id, err = registry.Create(auth, auth.Signer, title, description, token, reward, deadline)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SubmitSolution records the signer's proof against an open bounty.
func (n *Node) SubmitSolution(ctx context.Context, auth *Authorization, id uint64, proofURL string) error {
	if auth == nil {
		return fmt.Errorf("%w: authorization required", bounty.ErrUnauthorized)
	}
	return n.mutate(ctx, "submit", auth, func(registry *bounty.Registry, _ *chainstate.Manager) error {
		return registry.SubmitSolution(auth, id, auth.Signer, proofURL)
	})
}

// ApproveSolution pays the pending solver. The signer must be the creator.
func (n *Node) ApproveSolution(ctx context.Context, auth *Authorization, id uint64, token string) error {
	return n.mutate(ctx, "approve", auth, func(registry *bounty.Registry, _ *chainstate.Manager) error {
		return registry.ApproveSolution(authorizer(auth), id, token)
	})
}

// RejectSolution reopens a submitted bounty. The signer must be the creator.
func (n *Node) RejectSolution(ctx context.Context, auth *Authorization, id uint64) error {
	return n.mutate(ctx, "reject", auth, func(registry *bounty.Registry, _ *chainstate.Manager) error {
		return registry.RejectSolution(authorizer(auth), id)
	})
}

// CancelBounty refunds an open bounty. The signer must be the creator.
func (n *Node) CancelBounty(ctx context.Context, auth *Authorization, id uint64, token string) error {
	return n.mutate(ctx, "cancel", auth, func(registry *bounty.Registry, _ *chainstate.Manager) error {
		return registry.CancelBounty(authorizer(auth), id, token)
	})
}

func authorizer(auth *Authorization) bounty.Authorizer {
	if auth == nil {
		return nil
	}
	return auth
}

// SweepExpired marks every open bounty whose deadline has passed as expired
// and returns their ids. Rewards stay escrowed.
func (n *Node) SweepExpired(ctx context.Context) ([]uint64, error) {
	var swept []uint64
	err := n.mutate(ctx, "sweep", nil, func(registry *bounty.Registry, _ *chainstate.Manager) error {
		all, err := registry.All()
		if err != nil {
			return err
		}
		now := n.nowFn()
		for _, b := range all {
			if b.Status != bounty.StatusOpen || b.Deadline >= now {
				continue
			}
			if err := registry.ExpireOverdue(b.ID); err != nil {
				return err
			}
			swept = append(swept, b.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	n.metrics.AddSwept(len(swept))
	return swept, nil
}

// ApplyAllocations credits the genesis balances once. Later calls fail with
// ErrGenesisApplied.
func (n *Node) ApplyAllocations(ctx context.Context, allocs []Allocation) error {
	return n.mutate(ctx, "genesis", nil, func(_ *bounty.Registry, manager *chainstate.Manager) error {
		applied, err := manager.GenesisApplied()
		if err != nil {
			return err
		}
		if applied {
			return ErrGenesisApplied
		}
		for _, alloc := range allocs {
			if err := manager.Credit(alloc.Token, alloc.Address, alloc.Amount); err != nil {
				return fmt.Errorf("allocate %s to %x: %w", alloc.Token, alloc.Address, err)
			}
		}
		return manager.MarkGenesisApplied()
	})
}

// Mint credits new tokens to an account. It is exposed to administrators on
// development networks.
func (n *Node) Mint(ctx context.Context, token string, to [20]byte, amount *big.Int) error {
	return n.mutate(ctx, "mint", nil, func(registry *bounty.Registry, manager *chainstate.Manager) error {
		normalized, err := registry.NormalizeToken(token)
		if err != nil {
			return err
		}
		return manager.Credit(normalized, to, amount)
	})
}
