package config

import (
	"fmt"
	"math/big"
	"strings"

	"bountychain/crypto"
)

// ParsedAllocation is an Allocation decoded into runtime values.
type ParsedAllocation struct {
	Address [20]byte
	Token   string
	Amount  *big.Int
}

// Parse validates and decodes the allocation.
func (a Allocation) Parse() (ParsedAllocation, error) {
	addr, err := crypto.ParseAccount(a.Address)
	if err != nil {
		return ParsedAllocation{}, fmt.Errorf("invalid allocation address %q: %w", a.Address, err)
	}
	token := strings.ToUpper(strings.TrimSpace(a.Token))
	if token == "" {
		return ParsedAllocation{}, fmt.Errorf("allocation for %s: token required", a.Address)
	}
	amount, err := parseUintAmount(a.Amount)
	if err != nil {
		return ParsedAllocation{}, fmt.Errorf("allocation for %s: %w", a.Address, err)
	}
	if amount.Sign() == 0 {
		return ParsedAllocation{}, fmt.Errorf("allocation for %s: amount must be positive", a.Address)
	}
	return ParsedAllocation{Address: addr, Token: token, Amount: amount}, nil
}

// ParsedAllocations decodes every configured allocation.
func (c *Config) ParsedAllocations() ([]ParsedAllocation, error) {
	out := make([]ParsedAllocation, 0, len(c.Allocations))
	for _, alloc := range c.Allocations {
		parsed, err := alloc.Parse()
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
