package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"bountychain/crypto"
	"bountychain/rpc"
)

var bountyNow = time.Now

func bountyUsage() string {
	return strings.Join([]string{
		"Usage: bounty-cli bounty <subcommand> [flags]",
		"",
		"Subcommands:",
		"  create  --title T --description D --reward N --deadline +72h [--token BNT] [--key wallet.json]",
		"  get     --id N",
		"  list",
		"  open",
		"  mine    [--creator ADDR | --key wallet.json]",
		"  count",
		"  submit  --id N --proof URL [--key wallet.json]",
		"  approve --id N [--token BNT] [--key wallet.json]",
		"  reject  --id N [--key wallet.json]",
		"  cancel  --id N [--token BNT] [--key wallet.json]",
	}, "\n")
}

func runBountyCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, bountyUsage())
		return 1
	}
	switch args[0] {
	case "create":
		return runBountyCreate(args[1:], stdout, stderr)
	case "get":
		return runBountyGet(args[1:], stdout, stderr)
	case "list":
		return runBountyQuery("bounty_list", stdout, stderr)
	case "open":
		return runBountyQuery("bounty_listOpen", stdout, stderr)
	case "count":
		return runBountyQuery("bounty_count", stdout, stderr)
	case "mine":
		return runBountyMine(args[1:], stdout, stderr)
	case "submit":
		return runBountySubmit(args[1:], stdout, stderr)
	case "approve":
		return runBountySettle("bounty_approveSolution", args[1:], stdout, stderr)
	case "reject":
		return runBountyReject(args[1:], stdout, stderr)
	case "cancel":
		return runBountySettle("bounty_cancel", args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown bounty subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, bountyUsage())
		return 1
	}
}

func runBountyCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("bounty create", stderr)
	var title, description, reward, deadline, token, keyPath string
	fs.StringVar(&title, "title", "", "bounty title")
	fs.StringVar(&description, "description", "", "task description")
	fs.StringVar(&reward, "reward", "", "reward amount in base units")
	fs.StringVar(&deadline, "deadline", "", "deadline as +duration, RFC3339 timestamp or unix seconds")
	fs.StringVar(&token, "token", "BNT", "reward token symbol")
	fs.StringVar(&keyPath, "key", defaultKeystore, "creator keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(title) == "" {
		return printError(stderr, "--title is required")
	}
	if strings.TrimSpace(description) == "" {
		return printError(stderr, "--description is required")
	}
	if !isBigDecimal(reward) {
		return printError(stderr, "--reward must be a positive integer")
	}
	deadlineUnix, err := parseDeadline(deadline, bountyNow())
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := rpc.CreateParams{
		Title:       title,
		Description: description,
		Token:       strings.ToUpper(strings.TrimSpace(token)),
		Reward:      strings.TrimSpace(reward),
		Deadline:    deadlineUnix,
	}
	return sendSigned(keyPath, "bounty_create", stdout, stderr, func(call rpc.SignedCall) (interface{}, rpc.Signable) {
		params.SignedCall = call
		return params, params
	})
}

func runBountyGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("bounty get", stderr)
	id := fs.Uint64("id", 0, "bounty id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return printError(stderr, "--id is required")
	}
	result, rpcErr, err := callRPC("bounty_get", map[string]uint64{"id": *id}, "")
	return writeOutcome(stdout, stderr, result, rpcErr, err)
}

func runBountyQuery(method string, stdout, stderr io.Writer) int {
	result, rpcErr, err := callRPC(method, nil, "")
	return writeOutcome(stdout, stderr, result, rpcErr, err)
}

func runBountyMine(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("bounty mine", stderr)
	creator := fs.String("creator", "", "creator address (defaults to the keystore address)")
	keyPath := fs.String("key", defaultKeystore, "keystore used when --creator is absent")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr := strings.TrimSpace(*creator)
	if addr == "" {
		key, err := loadKey(*keyPath)
		if err != nil {
			return printError(stderr, err.Error())
		}
		addr = key.PubKey().Address().String()
	}
	result, rpcErr, err := callRPC("bounty_listByCreator", map[string]string{"creator": addr}, "")
	return writeOutcome(stdout, stderr, result, rpcErr, err)
}

func runBountySubmit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("bounty submit", stderr)
	id := fs.Uint64("id", 0, "bounty id")
	proof := fs.String("proof", "", "URL of the solution proof")
	keyPath := fs.String("key", defaultKeystore, "solver keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return printError(stderr, "--id is required")
	}
	if strings.TrimSpace(*proof) == "" {
		return printError(stderr, "--proof is required")
	}
	params := rpc.SubmitParams{ID: *id, ProofURL: strings.TrimSpace(*proof)}
	return sendSigned(*keyPath, "bounty_submitSolution", stdout, stderr, func(call rpc.SignedCall) (interface{}, rpc.Signable) {
		params.SignedCall = call
		return params, params
	})
}

func runBountySettle(method string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(method, stderr)
	id := fs.Uint64("id", 0, "bounty id")
	token := fs.String("token", "BNT", "reward token recorded on the bounty")
	keyPath := fs.String("key", defaultKeystore, "creator keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return printError(stderr, "--id is required")
	}
	params := rpc.SettleParams{ID: *id, Token: strings.ToUpper(strings.TrimSpace(*token))}
	return sendSigned(*keyPath, method, stdout, stderr, func(call rpc.SignedCall) (interface{}, rpc.Signable) {
		params.SignedCall = call
		return params, params
	})
}

func runBountyReject(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("bounty reject", stderr)
	id := fs.Uint64("id", 0, "bounty id")
	keyPath := fs.String("key", defaultKeystore, "creator keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return printError(stderr, "--id is required")
	}
	params := rpc.RejectParams{ID: *id}
	return sendSigned(*keyPath, "bounty_rejectSolution", stdout, stderr, func(call rpc.SignedCall) (interface{}, rpc.Signable) {
		params.SignedCall = call
		return params, params
	})
}

// sendSigned unlocks the keystore, fetches the signer's nonce, signs the call
// and submits it. attach stores the signed call on the method's parameters.
func sendSigned(keyPath, method string, stdout, stderr io.Writer, attach func(rpc.SignedCall) (interface{}, rpc.Signable)) int {
	key, err := loadKey(keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	nonce, err := fetchNonce(key)
	if err != nil {
		return printError(stderr, err.Error())
	}
	_, signable := attach(rpc.SignedCall{})
	call, err := rpc.SignCall(key, method, nonce, signable)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params, _ := attach(call)
	result, rpcErr, err := callRPC(method, params, "")
	return writeOutcome(stdout, stderr, result, rpcErr, err)
}

func fetchNonce(key *crypto.PrivateKey) (uint64, error) {
	addr := key.PubKey().Address().String()
	result, rpcErr, err := callRPC("account_nonce", map[string]string{"address": addr}, "")
	if err != nil {
		return 0, fmt.Errorf("fetch nonce: %w", err)
	}
	if rpcErr != nil {
		return 0, fmt.Errorf("fetch nonce: RPC error %d: %s", rpcErr.Code, rpcErr.Message)
	}
	var out rpc.NonceResult
	if err := json.Unmarshal(result, &out); err != nil {
		return 0, fmt.Errorf("decode nonce: %w", err)
	}
	return out.Nonce, nil
}

func isBigDecimal(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	nonZero := false
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return false
		}
		if r != '0' {
			nonZero = true
		}
	}
	return nonZero
}

func parseDeadline(value string, now time.Time) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--deadline is required")
	}
	if strings.HasPrefix(trimmed, "+") {
		dur, err := parseDeadlineDuration(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return 0, err
		}
		if dur <= 0 {
			return 0, fmt.Errorf("deadline duration must be positive")
		}
		return now.Add(dur).Unix(), nil
	}
	if unix, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return unix, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid deadline %q", value)
	}
	return ts.Unix(), nil
}

func parseDeadlineDuration(value string) (time.Duration, error) {
	if strings.HasSuffix(value, "d") || strings.HasSuffix(value, "D") {
		daysStr := strings.TrimSuffix(strings.TrimSuffix(value, "d"), "D")
		days, err := strconv.ParseInt(daysStr, 10, 64)
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid deadline duration")
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid deadline duration")
	}
	return dur, nil
}
