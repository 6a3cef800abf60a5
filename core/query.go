package core

import (
	"math/big"

	chainstate "bountychain/core/state"
	"bountychain/native/bounty"
)

func (n *Node) readRegistry() (*bounty.Registry, *chainstate.Manager) {
	manager := chainstate.NewManager(n.db)
	return n.newRegistry(manager, nil), manager
}

// Bounty returns the bounty stored under id.
func (n *Node) Bounty(id uint64) (*bounty.Bounty, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	registry, _ := n.readRegistry()
	return registry.Get(id)
}

// Bounties returns every bounty in ascending id order.
func (n *Node) Bounties() ([]*bounty.Bounty, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	registry, _ := n.readRegistry()
	return registry.All()
}

// OpenBounties returns the bounties still accepting submissions.
func (n *Node) OpenBounties() ([]*bounty.Bounty, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	registry, _ := n.readRegistry()
	return registry.Open()
}

// BountiesByCreator returns the bounties created by creator.
func (n *Node) BountiesByCreator(creator [20]byte) ([]*bounty.Bounty, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	registry, _ := n.readRegistry()
	return registry.ByCreator(creator)
}

// BountyCount returns the registry counter.
func (n *Node) BountyCount() (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	registry, _ := n.readRegistry()
	return registry.Count()
}

// Balance returns the token balance of addr.
func (n *Node) Balance(addr [20]byte, token string) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	_, manager := n.readRegistry()
	return manager.Balance(addr, token)
}

// AccountNonce returns the next nonce addr must sign with.
func (n *Node) AccountNonce(addr [20]byte) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	_, manager := n.readRegistry()
	return manager.Nonce(addr)
}

// VaultAddress returns the account holding escrowed rewards.
func (n *Node) VaultAddress() [20]byte {
	return chainstate.BountyVaultAddress()
}

// Tokens returns the accepted reward tokens. Empty means any symbol.
func (n *Node) Tokens() []string {
	return append([]string(nil), n.tokens...)
}
