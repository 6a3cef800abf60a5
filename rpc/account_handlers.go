package rpc

import (
	"net/http"
	"strings"
)

func (s *Server) handleAccountBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params balanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	token := strings.ToUpper(strings.TrimSpace(params.Token))
	if token == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "token required")
		return
	}
	balance, err := s.node.Balance(addr, token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load balance", err.Error())
		return
	}
	writeResult(w, req.ID, BalanceResult{
		Address: strings.TrimSpace(params.Address),
		Token:   token,
		Balance: formatAmount(balance),
	})
}

func (s *Server) handleAccountNonce(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params nonceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	nonce, err := s.node.AccountNonce(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load nonce", err.Error())
		return
	}
	writeResult(w, req.ID, NonceResult{Address: strings.TrimSpace(params.Address), Nonce: nonce})
}

func (s *Server) handleLedgerMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params mintParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "amount must be a positive integer")
		return
	}
	if err := s.node.Mint(r.Context(), params.Token, to, amount); err != nil {
		writeBountyError(w, req.ID, err)
		return
	}
	balance, err := s.node.Balance(to, strings.ToUpper(strings.TrimSpace(params.Token)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load balance", err.Error())
		return
	}
	writeResult(w, req.ID, BalanceResult{
		Address: strings.TrimSpace(params.To),
		Token:   strings.ToUpper(strings.TrimSpace(params.Token)),
		Balance: formatAmount(balance),
	})
}
