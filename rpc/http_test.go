package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"bountychain/core"
	"bountychain/core/types"
	"bountychain/crypto"
	"bountychain/native/bounty"
	"bountychain/storage"
)

const (
	testAdminSecret       = "rpc-test-secret"
	testNow         int64 = 1_700_000_000
)

type testEnv struct {
	t      *testing.T
	node   *core.Node
	server *Server
	http   *httptest.Server
	nextID int
}

func newTestEnv(t *testing.T, mutate ...func(*ServerConfig)) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	node, err := core.NewNode(db, core.NodeOptions{
		Tokens: []string{"BNT"},
		Now:    func() int64 { return testNow },
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	cfg := ServerConfig{AdminSecret: testAdminSecret, DisableRateLimit: true, Logger: logger}
	for _, fn := range mutate {
		fn(&cfg)
	}
	srv, err := NewServer(node, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{t: t, node: node, server: srv, http: ts}
}

func (e *testEnv) call(method string, params interface{}, headers map[string]string) (int, json.RawMessage, *RPCError) {
	e.t.Helper()
	e.nextID++
	req := map[string]interface{}{"jsonrpc": "2.0", "id": e.nextID, "method": method}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		e.t.Fatalf("marshal request: %v", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, e.http.URL+"/rpc", bytes.NewReader(body))
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := e.http.Client().Do(httpReq)
	if err != nil {
		e.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		e.t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, envelope.Result, envelope.Error
}

func (e *testEnv) adminHeaders() map[string]string {
	e.t.Helper()
	token, err := IssueAdminToken(testAdminSecret, "", time.Minute)
	if err != nil {
		e.t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func (e *testEnv) initialize() {
	e.t.Helper()
	if _, _, rpcErr := e.call("bounty_initialize", nil, e.adminHeaders()); rpcErr != nil {
		e.t.Fatalf("initialize: %+v", rpcErr)
	}
}

func (e *testEnv) mint(to *crypto.PrivateKey, amount string) {
	e.t.Helper()
	params := map[string]string{"to": to.PubKey().Address().String(), "token": "BNT", "amount": amount}
	if _, _, rpcErr := e.call("ledger_mint", params, e.adminHeaders()); rpcErr != nil {
		e.t.Fatalf("mint: %+v", rpcErr)
	}
}

func (e *testEnv) nonce(key *crypto.PrivateKey) uint64 {
	e.t.Helper()
	n, err := e.node.AccountNonce(key.PubKey().Address().Bytes20())
	if err != nil {
		e.t.Fatalf("nonce: %v", err)
	}
	return n
}

func signed(t *testing.T, key *crypto.PrivateKey, method string, nonce uint64, params Signable) SignedCall {
	t.Helper()
	call, err := SignCall(key, method, nonce, params)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return call
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func (e *testEnv) create(key *crypto.PrivateKey, reward string) uint64 {
	e.t.Helper()
	params := CreateParams{Title: "Fix bug", Description: "Crash on start", Token: "BNT", Reward: reward, Deadline: testNow + 3600}
	params.SignedCall = signed(e.t, key, "bounty_create", e.nonce(key), params)
	_, result, rpcErr := e.call("bounty_create", params, nil)
	if rpcErr != nil {
		e.t.Fatalf("create: %+v", rpcErr)
	}
	var out CreateResult
	if err := json.Unmarshal(result, &out); err != nil {
		e.t.Fatalf("decode create: %v", err)
	}
	return out.ID
}

func TestBountyLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t)
	env.initialize()
	creator := mustKey(t)
	solver := mustKey(t)
	env.mint(creator, "1000")

	id := env.create(creator, "250")
	if id != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}

	submit := SubmitParams{ID: id, ProofURL: "https://example.com/pr/1"}
	submit.SignedCall = signed(t, solver, "bounty_submitSolution", env.nonce(solver), submit)
	if _, _, rpcErr := env.call("bounty_submitSolution", submit, nil); rpcErr != nil {
		t.Fatalf("submit: %+v", rpcErr)
	}

	approve := SettleParams{ID: id, Token: "BNT"}
	approve.SignedCall = signed(t, creator, "bounty_approveSolution", env.nonce(creator), approve)
	_, result, rpcErr := env.call("bounty_approveSolution", approve, nil)
	if rpcErr != nil {
		t.Fatalf("approve: %+v", rpcErr)
	}
	var view BountyJSON
	if err := json.Unmarshal(result, &view); err != nil {
		t.Fatalf("decode bounty: %v", err)
	}
	if view.Status != bounty.StatusCompleted.String() {
		t.Fatalf("expected completed, got %s", view.Status)
	}
	if view.Winner == nil || *view.Winner != solver.PubKey().Address().String() {
		t.Fatalf("unexpected winner %v", view.Winner)
	}
	if view.Solver != nil {
		t.Fatalf("solver must be cleared after completion")
	}

	_, result, rpcErr = env.call("account_balance", map[string]string{"address": solver.PubKey().Address().String(), "token": "BNT"}, nil)
	if rpcErr != nil {
		t.Fatalf("balance: %+v", rpcErr)
	}
	var bal BalanceResult
	if err := json.Unmarshal(result, &bal); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if bal.Balance != "250" {
		t.Fatalf("expected solver balance 250, got %s", bal.Balance)
	}
}

func TestBountyQueriesOverRPC(t *testing.T) {
	env := newTestEnv(t)
	env.initialize()
	creator := mustKey(t)
	other := mustKey(t)
	env.mint(creator, "1000")
	env.mint(other, "1000")
	env.create(creator, "10")
	second := env.create(other, "20")

	cancel := SettleParams{ID: second, Token: "BNT"}
	cancel.SignedCall = signed(t, other, "bounty_cancel", env.nonce(other), cancel)
	if _, _, rpcErr := env.call("bounty_cancel", cancel, nil); rpcErr != nil {
		t.Fatalf("cancel: %+v", rpcErr)
	}

	_, result, rpcErr := env.call("bounty_count", nil, nil)
	if rpcErr != nil || string(bytes.TrimSpace(result)) != "2" {
		t.Fatalf("unexpected count %s %+v", result, rpcErr)
	}
	var open []BountyJSON
	_, result, _ = env.call("bounty_listOpen", nil, nil)
	if err := json.Unmarshal(result, &open); err != nil {
		t.Fatalf("decode open: %v", err)
	}
	if len(open) != 1 || open[0].ID != 1 {
		t.Fatalf("unexpected open list %+v", open)
	}
	var mine []BountyJSON
	_, result, _ = env.call("bounty_listByCreator", map[string]string{"creator": other.PubKey().Address().String()}, nil)
	if err := json.Unmarshal(result, &mine); err != nil {
		t.Fatalf("decode by creator: %v", err)
	}
	if len(mine) != 1 || mine[0].Status != bounty.StatusCancelled.String() {
		t.Fatalf("unexpected creator list %+v", mine)
	}
	var all []BountyJSON
	_, result, _ = env.call("bounty_list", nil, nil)
	if err := json.Unmarshal(result, &all); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 bounties, got %d", len(all))
	}

	status, _, rpcErr := env.call("bounty_get", map[string]uint64{"id": 99}, nil)
	if rpcErr == nil || rpcErr.Code != codeBountyNotFound || status != http.StatusNotFound {
		t.Fatalf("expected not found, got %d %+v", status, rpcErr)
	}
}

func TestBountyCreateRejectsForgedSignature(t *testing.T) {
	env := newTestEnv(t)
	env.initialize()
	creator := mustKey(t)
	forger := mustKey(t)
	env.mint(creator, "100")

	params := CreateParams{Title: "t", Description: "d", Token: "BNT", Reward: "10", Deadline: testNow + 60}
	params.SignedCall = signed(t, forger, "bounty_create", 0, params)
	params.Caller = creator.PubKey().Address().String()
	status, _, rpcErr := env.call("bounty_create", params, nil)
	if rpcErr == nil || rpcErr.Code != codeBountyForbidden || status != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d %+v", status, rpcErr)
	}

	tampered := CreateParams{Title: "t", Description: "d", Token: "BNT", Reward: "10", Deadline: testNow + 60}
	tampered.SignedCall = signed(t, creator, "bounty_create", 0, tampered)
	tampered.Reward = "1"
	if _, _, rpcErr := env.call("bounty_create", tampered, nil); rpcErr == nil || rpcErr.Code != codeBountyForbidden {
		t.Fatalf("expected tampered params to fail signature check, got %+v", rpcErr)
	}
	if count, _ := env.node.BountyCount(); count != 0 {
		t.Fatalf("expected no bounties, got %d", count)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRejectedSignatureIsMaskedInLogs(t *testing.T) {
	out := &lockedBuffer{}
	env := newTestEnv(t, func(cfg *ServerConfig) {
		cfg.Logger = slog.New(slog.NewJSONHandler(out, nil))
	})
	env.initialize()
	creator := mustKey(t)
	forger := mustKey(t)
	params := CreateParams{Title: "t", Description: "d", Token: "BNT", Reward: "10", Deadline: testNow + 60}
	params.SignedCall = signed(t, forger, "bounty_create", 0, params)
	params.Caller = creator.PubKey().Address().String()
	if _, _, rpcErr := env.call("bounty_create", params, nil); rpcErr == nil || rpcErr.Code != codeBountyForbidden {
		t.Fatalf("expected forbidden, got %+v", rpcErr)
	}
	logged := out.String()
	if !strings.Contains(logged, "signed call rejected") {
		t.Fatalf("expected rejection to be logged, got %s", logged)
	}
	if strings.Contains(logged, strings.TrimPrefix(params.Signature, "0x")) {
		t.Fatalf("signature leaked into logs: %s", logged)
	}
	if !strings.Contains(logged, params.Caller) {
		t.Fatalf("expected caller address in logs, got %s", logged)
	}
}

func TestBountyCreateNonceReplay(t *testing.T) {
	env := newTestEnv(t)
	env.initialize()
	creator := mustKey(t)
	env.mint(creator, "100")
	params := CreateParams{Title: "t", Description: "d", Token: "BNT", Reward: "10", Deadline: testNow + 60}
	params.SignedCall = signed(t, creator, "bounty_create", 0, params)
	if _, _, rpcErr := env.call("bounty_create", params, nil); rpcErr != nil {
		t.Fatalf("create: %+v", rpcErr)
	}
	if _, _, rpcErr := env.call("bounty_create", params, nil); rpcErr == nil || rpcErr.Code != codeBountyNonce {
		t.Fatalf("expected nonce mismatch, got %+v", rpcErr)
	}
}

func TestBountyErrorsMapToCodes(t *testing.T) {
	env := newTestEnv(t)
	creator := mustKey(t)

	params := CreateParams{Title: "t", Description: "d", Token: "BNT", Reward: "10", Deadline: testNow + 60}
	params.SignedCall = signed(t, creator, "bounty_create", 0, params)
	if _, _, rpcErr := env.call("bounty_create", params, nil); rpcErr == nil || rpcErr.Code != codeBountyNotInitialized {
		t.Fatalf("expected not initialized, got %+v", rpcErr)
	}

	env.initialize()
	if _, _, rpcErr := env.call("bounty_create", params, nil); rpcErr == nil || rpcErr.Code != codeBountyTransfer {
		t.Fatalf("expected transfer failure without funds, got %+v", rpcErr)
	}

	past := CreateParams{Title: "t", Description: "d", Token: "BNT", Reward: "10", Deadline: testNow}
	past.SignedCall = signed(t, creator, "bounty_create", 0, past)
	if _, _, rpcErr := env.call("bounty_create", past, nil); rpcErr == nil || rpcErr.Code != codeBountyInvalidParams {
		t.Fatalf("expected validation error, got %+v", rpcErr)
	}

	if _, _, rpcErr := env.call("bounty_initialize", nil, env.adminHeaders()); rpcErr == nil || rpcErr.Code != codeBountyConflict {
		t.Fatalf("expected conflict on second initialize, got %+v", rpcErr)
	}
	if _, _, rpcErr := env.call("bounty_unknown", nil, nil); rpcErr == nil || rpcErr.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", rpcErr)
	}
}

func TestLedgerMintErrorsMapToClientCodes(t *testing.T) {
	env := newTestEnv(t)
	env.initialize()
	zero := crypto.AddressFromBytes20([20]byte{}).String()
	status, _, rpcErr := env.call("ledger_mint", map[string]string{"to": zero, "token": "BNT", "amount": "1"}, env.adminHeaders())
	if rpcErr == nil || rpcErr.Code != codeBountyInvalidParams || status != http.StatusBadRequest {
		t.Fatalf("expected invalid params for zero address, got %d %+v", status, rpcErr)
	}

	holder := mustKey(t)
	maxBalance := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	env.mint(holder, maxBalance.String())
	params := map[string]string{"to": holder.PubKey().Address().String(), "token": "BNT", "amount": "1"}
	status, _, rpcErr = env.call("ledger_mint", params, env.adminHeaders())
	if rpcErr == nil || rpcErr.Code != codeBountyConflict || status != http.StatusConflict {
		t.Fatalf("expected conflict on balance overflow, got %d %+v", status, rpcErr)
	}
}

func TestAdminMethodsRequireToken(t *testing.T) {
	env := newTestEnv(t)
	status, _, rpcErr := env.call("bounty_initialize", nil, nil)
	if rpcErr == nil || rpcErr.Code != codeUnauthorized || status != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d %+v", status, rpcErr)
	}
	wrong, err := IssueAdminToken("another-secret", "", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, _, rpcErr := env.call("ledger_mint", map[string]string{}, map[string]string{"Authorization": "Bearer " + wrong}); rpcErr == nil || rpcErr.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized with foreign token, got %+v", rpcErr)
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	env := newTestEnv(t, func(cfg *ServerConfig) {
		cfg.DisableRateLimit = false
		cfg.RequestsPerSecond = 0.001
		cfg.Burst = 1
	})
	if _, _, rpcErr := env.call("bounty_count", nil, nil); rpcErr != nil {
		t.Fatalf("first call: %+v", rpcErr)
	}
	status, _, rpcErr := env.call("bounty_count", nil, nil)
	if status != http.StatusTooManyRequests || rpcErr == nil || rpcErr.Code != codeRateLimited {
		t.Fatalf("expected rate limit, got %d %+v", status, rpcErr)
	}
}

func TestRateLimitIgnoresSpoofedForwardingHeaders(t *testing.T) {
	limited := func(cfg *ServerConfig) {
		cfg.DisableRateLimit = false
		cfg.RequestsPerSecond = 0.001
		cfg.Burst = 1
	}
	env := newTestEnv(t, limited)
	if _, _, rpcErr := env.call("bounty_count", nil, map[string]string{"X-Forwarded-For": "203.0.113.1"}); rpcErr != nil {
		t.Fatalf("first call: %+v", rpcErr)
	}
	status, _, rpcErr := env.call("bounty_count", nil, map[string]string{"X-Forwarded-For": "203.0.113.2"})
	if status != http.StatusTooManyRequests || rpcErr == nil || rpcErr.Code != codeRateLimited {
		t.Fatalf("expected spoofed header to share the bucket, got %d %+v", status, rpcErr)
	}

	proxied := newTestEnv(t, limited, func(cfg *ServerConfig) { cfg.TrustProxyHeaders = true })
	for _, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		if _, _, rpcErr := proxied.call("bounty_count", nil, map[string]string{"X-Forwarded-For": ip}); rpcErr != nil {
			t.Fatalf("call from %s behind trusted proxy: %+v", ip, rpcErr)
		}
	}
}

func TestHealthzAndRequestID(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.http.Client().Get(env.http.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRejectsMalformedEnvelope(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.http.Client().Post(env.http.URL+"/rpc", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var envelope RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error == nil || envelope.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", envelope.Error)
	}
}

func TestEventStreamDeliversCommittedEvents(t *testing.T) {
	env := newTestEnv(t)
	env.initialize()
	creator := mustKey(t)
	env.mint(creator, "100")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/events?types=" + bounty.EventTypeBountyCreated
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	deadline := time.Now().Add(2 * time.Second)
	for env.node.Events().Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	env.create(creator, "10")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt types.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != bounty.EventTypeBountyCreated || evt.Attr("id") != "1" {
		t.Fatalf("unexpected event %+v", evt)
	}
}
