package rpc

import (
	"encoding/json"
	"math/big"
	"strconv"

	"bountychain/crypto"
	"bountychain/native/bounty"
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// SignedCall carries the caller proof attached to every mutating method. The
// signature covers crypto.ActionDigest over the method, caller, nonce and the
// method's SigningFields.
type SignedCall struct {
	Caller    string `json:"caller"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type CreateParams struct {
	SignedCall
	Title       string `json:"title"`
	Description string `json:"description"`
	Token       string `json:"token"`
	Reward      string `json:"reward"`
	Deadline    int64  `json:"deadline"`
}

func (p CreateParams) SigningFields() []string {
	return []string{p.Title, p.Description, p.Token, p.Reward, strconv.FormatInt(p.Deadline, 10)}
}

type SubmitParams struct {
	SignedCall
	ID       uint64 `json:"id"`
	ProofURL string `json:"proofUrl"`
}

func (p SubmitParams) SigningFields() []string {
	return []string{strconv.FormatUint(p.ID, 10), p.ProofURL}
}

// SettleParams is shared by approve and cancel, which both name the reward
// token the caller expects to move.
type SettleParams struct {
	SignedCall
	ID    uint64 `json:"id"`
	Token string `json:"token"`
}

func (p SettleParams) SigningFields() []string {
	return []string{strconv.FormatUint(p.ID, 10), p.Token}
}

type RejectParams struct {
	SignedCall
	ID uint64 `json:"id"`
}

func (p RejectParams) SigningFields() []string {
	return []string{strconv.FormatUint(p.ID, 10)}
}

type bountyIDParams struct {
	ID uint64 `json:"id"`
}

type creatorParams struct {
	Creator string `json:"creator"`
}

type balanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

type nonceParams struct {
	Address string `json:"address"`
}

type mintParams struct {
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type CreateResult struct {
	ID uint64 `json:"id"`
}

type BalanceResult struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

type NonceResult struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

type BountyJSON struct {
	ID          uint64  `json:"id"`
	Creator     string  `json:"creator"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Token       string  `json:"token"`
	Reward      string  `json:"reward"`
	Deadline    int64   `json:"deadline"`
	Status      string  `json:"status"`
	Solver      *string `json:"solver,omitempty"`
	ProofURL    string  `json:"proofUrl,omitempty"`
	Winner      *string `json:"winner,omitempty"`
	CreatedAt   int64   `json:"createdAt"`
}

func formatBountyJSON(b *bounty.Bounty) BountyJSON {
	out := BountyJSON{
		ID:          b.ID,
		Creator:     crypto.AddressFromBytes20(b.Creator).String(),
		Title:       b.Title,
		Description: b.Description,
		Token:       b.Token,
		Reward:      formatAmount(b.Reward),
		Deadline:    b.Deadline,
		Status:      b.Status.String(),
		ProofURL:    b.ProofURL,
		CreatedAt:   b.CreatedAt,
	}
	if b.Solver != nil {
		solver := crypto.AddressFromBytes20(*b.Solver).String()
		out.Solver = &solver
	}
	if b.Winner != nil {
		winner := crypto.AddressFromBytes20(*b.Winner).String()
		out.Winner = &winner
	}
	return out
}

func formatBountyList(list []*bounty.Bounty) []BountyJSON {
	out := make([]BountyJSON, 0, len(list))
	for _, b := range list {
		if b == nil {
			continue
		}
		out = append(out, formatBountyJSON(b))
	}
	return out
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
