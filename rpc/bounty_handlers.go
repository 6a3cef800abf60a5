package rpc

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"bountychain/core"
	chainstate "bountychain/core/state"
	"bountychain/crypto"
	"bountychain/native/bounty"
	"bountychain/observability"
	"bountychain/observability/logging"
)

const (
	codeBountyInvalidParams  = -32021
	codeBountyNotFound       = -32022
	codeBountyForbidden      = -32023
	codeBountyConflict       = -32024
	codeBountyInternal       = -32025
	codeBountyExpired        = -32026
	codeBountyTransfer       = -32027
	codeBountyNotInitialized = -32028
	codeBountyNonce          = -32029
)

func (s *Server) handleBountyInitialize(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if err := s.node.Initialize(r.Context()); err != nil {
		writeBountyError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleBountyCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params CreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	reward, err := parseAmount(params.Reward)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	auth, err := authorize("bounty_create", params.SignedCall, params)
	if err != nil {
		s.writeAuthError(w, r, req, params.SignedCall, err)
		return
	}
	id, err := s.node.CreateBounty(r.Context(), auth, params.Title, params.Description, params.Token, reward, params.Deadline)
	if err != nil {
		writeBountyError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, CreateResult{ID: id})
}

func (s *Server) handleBountySubmit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params SubmitParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	auth, err := authorize("bounty_submitSolution", params.SignedCall, params)
	if err != nil {
		s.writeAuthError(w, r, req, params.SignedCall, err)
		return
	}
	if err := s.node.SubmitSolution(r.Context(), auth, params.ID, params.ProofURL); err != nil {
		writeBountyError(w, req.ID, err)
		return
	}
	s.writeBounty(w, req.ID, params.ID)
}

func (s *Server) handleBountyApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params SettleParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	auth, err := authorize("bounty_approveSolution", params.SignedCall, params)
	if err != nil {
		s.writeAuthError(w, r, req, params.SignedCall, err)
		return
	}
	if err := s.node.ApproveSolution(r.Context(), auth, params.ID, params.Token); err != nil {
		writeBountyError(w, req.ID, err)
		return
	}
	s.writeBounty(w, req.ID, params.ID)
}

func (s *Server) handleBountyReject(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params RejectParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	auth, err := authorize("bounty_rejectSolution", params.SignedCall, params)
	if err != nil {
		s.writeAuthError(w, r, req, params.SignedCall, err)
		return
	}
	if err := s.node.RejectSolution(r.Context(), auth, params.ID); err != nil {
		writeBountyError(w, req.ID, err)
		return
	}
	s.writeBounty(w, req.ID, params.ID)
}

func (s *Server) handleBountyCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params SettleParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	auth, err := authorize("bounty_cancel", params.SignedCall, params)
	if err != nil {
		s.writeAuthError(w, r, req, params.SignedCall, err)
		return
	}
	if err := s.node.CancelBounty(r.Context(), auth, params.ID, params.Token); err != nil {
		writeBountyError(w, req.ID, err)
		return
	}
	s.writeBounty(w, req.ID, params.ID)
}

func (s *Server) handleBountyGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params bountyIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	s.writeBounty(w, req.ID, params.ID)
}

func (s *Server) handleBountyList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	list, err := s.node.Bounties()
	if err != nil {
		writeBountyError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatBountyList(list))
}

func (s *Server) handleBountyListOpen(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	list, err := s.node.OpenBounties()
	if err != nil {
		writeBountyError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatBountyList(list))
}

func (s *Server) handleBountyListByCreator(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params creatorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	creator, err := parseBech32Address(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	list, err := s.node.BountiesByCreator(creator)
	if err != nil {
		writeBountyError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatBountyList(list))
}

func (s *Server) handleBountyCount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	count, err := s.node.BountyCount()
	if err != nil {
		writeBountyError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, count)
}

func (s *Server) writeBounty(w http.ResponseWriter, id interface{}, bountyID uint64) {
	b, err := s.node.Bounty(bountyID)
	if err != nil {
		writeBountyError(w, id, err)
		return
	}
	writeResult(w, id, formatBountyJSON(b))
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	return crypto.ParseAccount(trimmed)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	return amount, nil
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, req *RPCRequest, call SignedCall, err error) {
	s.logger.Warn("signed call rejected",
		slog.String("method", req.Method),
		slog.String("request_id", RequestIDFromContext(r.Context())),
		logging.MaskField("caller", call.Caller),
		logging.MaskField("signature", call.Signature),
		slog.String("error", err.Error()))
	if errors.Is(err, errSignerMismatch) || errors.Is(err, crypto.ErrInvalidSignature) {
		observability.ModuleMetrics().RecordDenial(req.Method, "signature")
		writeError(w, http.StatusForbidden, req.ID, codeBountyForbidden, "forbidden", err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
}

func writeBountyError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeBountyInternal
	message := "internal_error"
	switch {
	case errors.Is(err, bounty.ErrValidation), errors.Is(err, chainstate.ErrInvalidAccount), errors.Is(err, chainstate.ErrInvalidAmount):
		status = http.StatusBadRequest
		code = codeBountyInvalidParams
		message = "invalid_params"
	case errors.Is(err, bounty.ErrNotFound):
		status = http.StatusNotFound
		code = codeBountyNotFound
		message = "not_found"
	case errors.Is(err, bounty.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeBountyForbidden
		message = "forbidden"
	case errors.Is(err, bounty.ErrInvalidState), errors.Is(err, bounty.ErrAlreadyInitialized), errors.Is(err, chainstate.ErrBalanceOverflow):
		status = http.StatusConflict
		code = codeBountyConflict
		message = "conflict"
	case errors.Is(err, bounty.ErrExpired):
		status = http.StatusConflict
		code = codeBountyExpired
		message = "expired"
	case errors.Is(err, bounty.ErrTransferFailed):
		status = http.StatusConflict
		code = codeBountyTransfer
		message = "transfer_failed"
	case errors.Is(err, bounty.ErrNotInitialized):
		status = http.StatusServiceUnavailable
		code = codeBountyNotInitialized
		message = "not_initialized"
	case errors.Is(err, core.ErrNonceMismatch):
		status = http.StatusConflict
		code = codeBountyNonce
		message = "nonce_mismatch"
	}
	writeError(w, status, id, code, message, err.Error())
}
