package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"bountychain/crypto"
	"bountychain/native/bounty"
)

const bountyModule = "bounty"

var (
	bountyCounterKey     = []byte("bounty/counter")
	bountyRecordPrefix   = []byte("bounty/record:")
	bountyEscrowPrefix   = []byte("bounty/escrow:")
	genesisAllocationKey = []byte("genesis/allocations")

	// ErrEscrowUnderfunded indicates a debit exceeds the amount escrowed for a
	// bounty.
	ErrEscrowUnderfunded = errors.New("state: bounty escrow underfunded")
)

func bountyRecordKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return prefixedKey(bountyRecordPrefix, buf[:])
}

func bountyEscrowKey(id uint64, symbol string) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return prefixedKey(bountyEscrowPrefix, buf[:], []byte(symbol))
}

type storedBounty struct {
	ID          uint64
	Creator     [20]byte
	Title       string
	Description string
	Token       string
	Reward      *big.Int
	Deadline    *big.Int
	Solver      []byte
	ProofURL    string
	Winner      []byte
	Status      uint8
	CreatedAt   *big.Int
}

func newStoredBounty(b *bounty.Bounty) *storedBounty {
	stored := &storedBounty{
		ID:          b.ID,
		Creator:     b.Creator,
		Title:       b.Title,
		Description: b.Description,
		Token:       b.Token,
		Reward:      new(big.Int).Set(b.Reward),
		Deadline:    big.NewInt(b.Deadline),
		ProofURL:    b.ProofURL,
		Status:      uint8(b.Status),
		CreatedAt:   big.NewInt(b.CreatedAt),
	}
	if b.Solver != nil {
		stored.Solver = append([]byte(nil), b.Solver[:]...)
	}
	if b.Winner != nil {
		stored.Winner = append([]byte(nil), b.Winner[:]...)
	}
	return stored
}

func (s *storedBounty) toBounty() (*bounty.Bounty, error) {
	if s == nil {
		return nil, fmt.Errorf("bounty: nil storage record")
	}
	out := &bounty.Bounty{
		ID:          s.ID,
		Creator:     s.Creator,
		Title:       s.Title,
		Description: s.Description,
		Token:       s.Token,
		Reward:      big.NewInt(0),
		ProofURL:    s.ProofURL,
		Status:      bounty.Status(s.Status),
	}
	if s.Reward != nil {
		out.Reward = new(big.Int).Set(s.Reward)
	}
	if s.Deadline != nil {
		out.Deadline = s.Deadline.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	if len(s.Solver) > 0 {
		if len(s.Solver) != 20 {
			return nil, fmt.Errorf("bounty: stored solver has %d bytes", len(s.Solver))
		}
		var solver [20]byte
		copy(solver[:], s.Solver)
		out.Solver = &solver
	}
	if len(s.Winner) > 0 {
		if len(s.Winner) != 20 {
			return nil, fmt.Errorf("bounty: stored winner has %d bytes", len(s.Winner))
		}
		var winner [20]byte
		copy(winner[:], s.Winner)
		out.Winner = &winner
	}
	return bounty.SanitizeBounty(out)
}

// BountyCounter returns the registry counter and whether it has been
// established.
func (m *Manager) BountyCounter() (uint64, bool, error) {
	var count uint64
	ok, err := m.KVGet(bountyCounterKey, &count)
	if err != nil {
		return 0, false, err
	}
	return count, ok, nil
}

// SetBountyCounter stores the registry counter.
func (m *Manager) SetBountyCounter(count uint64) error {
	return m.KVPut(bountyCounterKey, count)
}

// BountyPut validates and persists a bounty record.
func (m *Manager) BountyPut(b *bounty.Bounty) error {
	sanitized, err := bounty.SanitizeBounty(b)
	if err != nil {
		return err
	}
	return m.put(bountyRecordKey(sanitized.ID), newStoredBounty(sanitized))
}

// BountyGet loads the bounty stored under id.
func (m *Manager) BountyGet(id uint64) (*bounty.Bounty, bool, error) {
	data, err := m.get(bountyRecordKey(id))
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	stored := new(storedBounty)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, err
	}
	record, err := stored.toBounty()
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// BountyVaultAddress is the custodial account holding every escrowed reward.
func BountyVaultAddress() [20]byte {
	return crypto.ModuleAddress(bountyModule)
}

// EscrowVaultAddress returns the custodial account for token.
func (m *Manager) EscrowVaultAddress(token string) ([20]byte, error) {
	if normalizeSymbol(token) == "" {
		return [20]byte{}, fmt.Errorf("%w: token symbol required", ErrInvalidAccount)
	}
	return BountyVaultAddress(), nil
}

// BountyEscrowed returns the amount currently escrowed for bounty id.
func (m *Manager) BountyEscrowed(id uint64, token string) (*big.Int, error) {
	data, err := m.get(bountyEscrowKey(id, normalizeSymbol(token)))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := decodeBig(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// EscrowCredit records amt as escrowed for bounty id.
func (m *Manager) EscrowCredit(id uint64, token string, amt *big.Int) error {
	if amt == nil || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	current, err := m.BountyEscrowed(id, token)
	if err != nil {
		return err
	}
	return m.put(bountyEscrowKey(id, normalizeSymbol(token)), new(big.Int).Add(current, amt))
}

// EscrowDebit releases amt from the escrow recorded for bounty id.
func (m *Manager) EscrowDebit(id uint64, token string, amt *big.Int) error {
	if amt == nil || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	current, err := m.BountyEscrowed(id, token)
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("%w: bounty %d holds %s, need %s", ErrEscrowUnderfunded, id, current, amt)
	}
	return m.put(bountyEscrowKey(id, normalizeSymbol(token)), new(big.Int).Sub(current, amt))
}

// GenesisApplied reports whether the genesis allocations were written.
func (m *Manager) GenesisApplied() (bool, error) {
	return m.KVGet(genesisAllocationKey, nil)
}

// MarkGenesisApplied records that the genesis allocations were written.
func (m *Manager) MarkGenesisApplied() error {
	return m.KVPut(genesisAllocationKey, uint64(1))
}
