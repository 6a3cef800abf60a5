package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"bountychain/cmd/internal/passphrase"
	"bountychain/crypto"
	"bountychain/rpc"
)

const (
	keystorePassEnv  = "BOUNTY_KEYSTORE_PASS"
	adminSecretEnv   = "BOUNTY_ADMIN_SECRET"
	defaultKeystore  = "wallet.json"
	rpcClientTimeout = 15 * time.Second
)

var rpcEndpoint = defaultRPCEndpoint()

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// callRPC is swapped out in tests.
var callRPC = doRPC

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "generate-key":
		return runGenerateKey(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "mint":
		return runMint(args[1:], stdout, stderr)
	case "bounty":
		return runBountyCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: bounty-cli [--rpc URL] <command> [flags]",
		"",
		"Commands:",
		"  generate-key [--out wallet.json]            create an encrypted keystore",
		"  address [--key wallet.json]                 print the keystore's address",
		"  balance --address ADDR [--token BNT]        show a token balance",
		"  mint --to ADDR --amount N [--token BNT]     credit tokens (admin, dev networks)",
		"  bounty <create|get|list|open|mine|count|submit|approve|reject|cancel> [flags]",
		"",
		"Keystore passphrases are read from " + keystorePassEnv + " or prompted for.",
	}, "\n")
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("generate-key", stderr)
	out := fs.String("out", defaultKeystore, "keystore file to write")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(*out); err == nil {
		return printError(stderr, fmt.Sprintf("%s already exists; refusing to overwrite", *out))
	}
	pass, err := passphrase.NewSource(keystorePassEnv).WithConfirmation().Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return printError(stderr, fmt.Sprintf("save keystore: %v", err))
	}
	fmt.Fprintf(stdout, "Generated new key and saved to %s\n", *out)
	fmt.Fprintf(stdout, "Your address is: %s\n", key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keyPath := fs.String("key", defaultKeystore, "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	address := fs.String("address", "", "account address")
	token := fs.String("token", "BNT", "token symbol")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*address) == "" {
		return printError(stderr, "--address is required")
	}
	result, rpcErr, err := callRPC("account_balance", map[string]string{"address": *address, "token": *token}, "")
	return writeOutcome(stdout, stderr, result, rpcErr, err)
}

func runMint(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("mint", stderr)
	to := fs.String("to", "", "recipient address")
	amount := fs.String("amount", "", "amount to credit")
	token := fs.String("token", "BNT", "token symbol")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*to) == "" {
		return printError(stderr, "--to is required")
	}
	if strings.TrimSpace(*amount) == "" {
		return printError(stderr, "--amount is required")
	}
	bearer, err := rpc.IssueAdminToken(os.Getenv(adminSecretEnv), "", time.Minute)
	if err != nil {
		return printError(stderr, fmt.Sprintf("%s: %v", adminSecretEnv, err))
	}
	params := map[string]string{"to": *to, "amount": *amount, "token": *token}
	result, rpcErr, err := callRPC("ledger_mint", params, bearer)
	return writeOutcome(stdout, stderr, result, rpcErr, err)
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("keystore %s not found. run bounty-cli generate-key first", path)
		}
		return nil, err
	}
	pass, err := passphrase.NewSource(keystorePassEnv).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("unlock keystore %s: %w", path, err)
	}
	return key, nil
}

func doRPC(method string, params interface{}, bearer string) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(rpcEndpoint, "/")+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	client := &http.Client{Timeout: rpcClientTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func writeOutcome(stdout, stderr io.Writer, result json.RawMessage, rpcErr *rpcError, err error) int {
	if err != nil {
		fmt.Fprintf(stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		if len(rpcErr.Data) > 0 {
			fmt.Fprintf(stderr, "  %s\n", rpcErr.Data)
		}
		return 1
	}
	if len(result) == 0 {
		fmt.Fprintln(stdout, "null")
		return 0
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(result)
	}
	fmt.Fprintln(stdout, pretty.String())
	return 0
}
