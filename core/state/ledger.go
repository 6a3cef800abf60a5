package state

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

var (
	balancePrefix = []byte("balance:")
	noncePrefix   = []byte("nonce:")

	// ErrInsufficientBalance indicates a debit exceeds the stored balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrBalanceOverflow indicates a credit would exceed the 256-bit range.
	ErrBalanceOverflow = errors.New("state: balance overflow")
	// ErrInvalidAmount indicates a non-positive or out of range amount.
	ErrInvalidAmount = errors.New("state: invalid amount")
	// ErrInvalidAccount indicates an empty account or token reference.
	ErrInvalidAccount = errors.New("state: invalid account")
)

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func balanceKey(addr [20]byte, symbol string) []byte {
	return prefixedKey(balancePrefix, []byte(symbol), addr[:])
}

func nonceKey(addr [20]byte) []byte {
	return prefixedKey(noncePrefix, addr[:])
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("%w: exceeds 256 bits", ErrInvalidAmount)
	}
	return value, nil
}

func (m *Manager) loadBalance(addr [20]byte, symbol string) (*uint256.Int, error) {
	data, err := m.get(balanceKey(addr, symbol))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return uint256.NewInt(0), nil
	}
	stored := new(big.Int)
	if err := decodeBig(data, stored); err != nil {
		return nil, err
	}
	value, overflow := uint256.FromBig(stored)
	if overflow {
		return nil, fmt.Errorf("state: stored balance exceeds 256 bits")
	}
	return value, nil
}

func (m *Manager) writeBalance(addr [20]byte, symbol string, amount *uint256.Int) error {
	return m.put(balanceKey(addr, symbol), amount.ToBig())
}

// Balance returns the token balance held by addr. Missing entries are zero.
func (m *Manager) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return nil, fmt.Errorf("%w: token symbol required", ErrInvalidAccount)
	}
	value, err := m.loadBalance(addr, normalized)
	if err != nil {
		return nil, err
	}
	return value.ToBig(), nil
}

// Credit adds amount to the balance of addr and to the token supply.
func (m *Manager) Credit(symbol string, addr [20]byte, amount *big.Int) error {
	normalized := normalizeSymbol(symbol)
	if normalized == "" || addr == ([20]byte{}) {
		return ErrInvalidAccount
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	current, err := m.loadBalance(addr, normalized)
	if err != nil {
		return err
	}
	updated, overflow := new(uint256.Int).AddOverflow(current, value)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := m.writeBalance(addr, normalized, updated); err != nil {
		return err
	}
	_, err = m.AdjustTokenSupply(normalized, value.ToBig())
	return err
}

// Transfer moves amount of symbol from one account to another. It fails
// without writing when the source balance is insufficient.
func (m *Manager) Transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("%w: token symbol required", ErrInvalidAccount)
	}
	if from == ([20]byte{}) || to == ([20]byte{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidAccount)
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	source, err := m.loadBalance(from, normalized)
	if err != nil {
		return err
	}
	if source.Lt(value) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, source.Dec(), value.Dec())
	}
	if from == to {
		return nil
	}
	dest, err := m.loadBalance(to, normalized)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(dest, value)
	if overflow {
		return ErrBalanceOverflow
	}
	debited := new(uint256.Int).Sub(source, value)
	if err := m.writeBalance(from, normalized, debited); err != nil {
		return err
	}
	return m.writeBalance(to, normalized, credited)
}

// Nonce returns the next expected action nonce for addr.
func (m *Manager) Nonce(addr [20]byte) (uint64, error) {
	data, err := m.get(nonceKey(addr))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	var nonce uint64
	if err := decodeUint(data, &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetNonce overwrites the stored action nonce for addr.
func (m *Manager) SetNonce(addr [20]byte, nonce uint64) error {
	return m.put(nonceKey(addr), nonce)
}
