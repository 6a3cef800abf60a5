package bounty_test

import (
	"bytes"
	"math/big"
	"strconv"
	"testing"

	"bountychain/core/types"
	"bountychain/crypto"
	bountypkg "bountychain/native/bounty"
)

func TestBountyEventsHaveDeterministicPayload(t *testing.T) {
	var creator [20]byte
	copy(creator[:], bytes.Repeat([]byte{0xBB}, 20))
	b := &bountypkg.Bounty{
		ID:        7,
		Creator:   creator,
		Token:     "BNT",
		Reward:    big.NewInt(42_000),
		Deadline:  1_700_000_500,
		Status:    bountypkg.StatusOpen,
		CreatedAt: 1_700_000_123,
	}
	cases := []struct {
		name string
		fn   func(*bountypkg.Bounty) *types.Event
		typ  string
	}{
		{"created", bountypkg.NewCreatedEvent, bountypkg.EventTypeBountyCreated},
		{"submitted", bountypkg.NewSubmittedEvent, bountypkg.EventTypeSolutionSubmitted},
		{"completed", bountypkg.NewCompletedEvent, bountypkg.EventTypeBountyCompleted},
		{"cancelled", bountypkg.NewCancelledEvent, bountypkg.EventTypeBountyCancelled},
		{"expired", bountypkg.NewExpiredEvent, bountypkg.EventTypeBountyExpired},
	}
	for _, tc := range cases {
		evt := tc.fn(b)
		if evt.Type != tc.typ {
			t.Fatalf("%s: expected type %s, got %s", tc.name, tc.typ, evt.Type)
		}
		if evt.Attributes["id"] != "7" {
			t.Fatalf("%s: unexpected id %q", tc.name, evt.Attributes["id"])
		}
		if evt.Attributes["creator"] != crypto.AddressFromBytes20(creator).String() {
			t.Fatalf("%s: unexpected creator %q", tc.name, evt.Attributes["creator"])
		}
		if evt.Attributes["reward"] != "42000" || evt.Attributes["token"] != "BNT" {
			t.Fatalf("%s: unexpected amount attributes %+v", tc.name, evt.Attributes)
		}
	}
	created := bountypkg.NewCreatedEvent(b)
	if created.Attributes["deadline"] != strconv.FormatInt(b.Deadline, 10) {
		t.Fatalf("missing deadline attribute")
	}
}

func TestRejectedEventCarriesSolver(t *testing.T) {
	var solver [20]byte
	copy(solver[:], bytes.Repeat([]byte{0xCC}, 20))
	b := &bountypkg.Bounty{ID: 1, Token: "BNT", Reward: big.NewInt(1), Status: bountypkg.StatusOpen}
	evt := bountypkg.NewRejectedEvent(b, solver)
	if evt.Attributes["solver"] != crypto.AddressFromBytes20(solver).String() {
		t.Fatalf("unexpected solver attribute %q", evt.Attributes["solver"])
	}
	if evt.Attributes["status"] != "open" {
		t.Fatalf("expected status open, got %q", evt.Attributes["status"])
	}
}

func TestInitializedEvent(t *testing.T) {
	evt := bountypkg.NewInitializedEvent()
	if evt.Type != bountypkg.EventTypeRegistryInitialized || evt.Attributes["count"] != "0" {
		t.Fatalf("unexpected initialized event %+v", evt)
	}
}
