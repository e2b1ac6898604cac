package policy

import (
	"reflect"
	"testing"

	"github.com/opsmith-labs/opsmith-core/internal/definition"
	"github.com/opsmith-labs/opsmith-core/internal/inventory"
)

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return engine
}

func readPack() *definition.Pack {
	return &definition.Pack{Metadata: definition.Metadata{
		Name:      "interface-health",
		Operation: definition.OperationRead,
	}}
}

func writePack() *definition.Pack {
	return &definition.Pack{Metadata: definition.Metadata{
		Name:           "ntp-update",
		Operation:      definition.OperationWrite,
		RequiresTicket: true,
	}}
}

func authorizedDevices() []inventory.Device {
	return []inventory.Device{
		{Hostname: "core-sw-01", Tags: []string{"production", "allow_execute"}},
		{Hostname: "core-sw-02", Tags: []string{"production", "allow_execute"}},
	}
}

// ─── Read Path ──────────────────────────────────────────────────────────────

func TestEvaluate_ReadAlwaysAuthorized(t *testing.T) {
	engine := newEngine(t, Config{})

	// No ticket, no confirmation, no tags: reads still pass.
	decision := engine.Evaluate(readPack(), Input{}, []inventory.Device{
		{Hostname: "core-sw-01"},
	})

	if !decision.Allowed() {
		t.Fatalf("read denied: %v", decision.Reasons)
	}
	if decision.State != StateAuthorized {
		t.Errorf("state = %q, want authorized", decision.State)
	}
	if decision.Operation != definition.OperationRead {
		t.Errorf("operation = %q, want read", decision.Operation)
	}
}

// ─── Write Path ─────────────────────────────────────────────────────────────

func TestEvaluate_WriteFullyAuthorized(t *testing.T) {
	engine := newEngine(t, Config{})

	decision := engine.Evaluate(writePack(), Input{
		TicketRef: "CHG0012345",
		Confirmed: true,
	}, authorizedDevices())

	if !decision.Allowed() {
		t.Fatalf("write denied: %v", decision.Reasons)
	}
	if decision.Operation != definition.OperationWrite {
		t.Errorf("operation = %q, want write", decision.Operation)
	}
}

func TestEvaluate_WriteDenialListsEveryFailure(t *testing.T) {
	engine := newEngine(t, Config{})

	devices := []inventory.Device{
		{Hostname: "core-sw-01", Tags: []string{"production"}},
		{Hostname: "core-sw-02", Tags: []string{"allow_execute"}},
	}
	decision := engine.Evaluate(writePack(), Input{}, devices)

	if decision.Allowed() {
		t.Fatal("write without ticket, confirmation, or tags must be denied")
	}
	want := []string{
		ReasonMissingTicket,
		ReasonMissingConfirmation,
		ReasonDeviceNotAuthorized + ":core-sw-01",
	}
	if !reflect.DeepEqual(decision.Reasons, want) {
		t.Errorf("reasons = %v, want %v", decision.Reasons, want)
	}
}

func TestEvaluate_InvalidTicketFormat(t *testing.T) {
	engine := newEngine(t, Config{})

	tests := []struct {
		ticket string
		valid  bool
	}{
		{"CHG0012345", true},
		{"TICKET-842", true},
		{"INC-1", true},
		{"chg0012345", false}, // lowercase
		{"0012345", false},    // no alpha prefix
		{"CHG", false},        // no number
		{"CHG 12345", false},  // whitespace
	}

	for _, tt := range tests {
		decision := engine.Evaluate(writePack(), Input{
			TicketRef: tt.ticket,
			Confirmed: true,
		}, authorizedDevices())

		if tt.valid && !decision.Allowed() {
			t.Errorf("ticket %q rejected: %v", tt.ticket, decision.Reasons)
		}
		if !tt.valid && decision.Allowed() {
			t.Errorf("ticket %q should be rejected", tt.ticket)
		}
		if !tt.valid {
			want := ReasonInvalidTicket + ":" + tt.ticket
			if len(decision.Reasons) == 0 || decision.Reasons[0] != want {
				t.Errorf("reasons = %v, want first %q", decision.Reasons, want)
			}
		}
	}
}

func TestEvaluate_MissingConfirmation(t *testing.T) {
	engine := newEngine(t, Config{})

	decision := engine.Evaluate(writePack(), Input{
		TicketRef: "CHG0012345",
	}, authorizedDevices())

	if decision.Allowed() {
		t.Fatal("unconfirmed write must be denied")
	}
	if len(decision.Reasons) != 1 || decision.Reasons[0] != ReasonMissingConfirmation {
		t.Errorf("reasons = %v, want exactly MissingConfirmation", decision.Reasons)
	}
}

func TestEvaluate_EveryUnauthorizedDeviceNamed(t *testing.T) {
	engine := newEngine(t, Config{})

	devices := []inventory.Device{
		{Hostname: "core-sw-01"},
		{Hostname: "core-sw-02", Tags: []string{"allow_execute"}},
		{Hostname: "edge-rtr-01"},
	}
	decision := engine.Evaluate(writePack(), Input{
		TicketRef: "CHG0012345",
		Confirmed: true,
	}, devices)

	want := []string{
		ReasonDeviceNotAuthorized + ":core-sw-01",
		ReasonDeviceNotAuthorized + ":edge-rtr-01",
	}
	if !reflect.DeepEqual(decision.Reasons, want) {
		t.Errorf("reasons = %v, want %v", decision.Reasons, want)
	}
}

func TestEvaluate_CustomAuthorizationTag(t *testing.T) {
	engine := newEngine(t, Config{AuthorizationTag: "change_window"})

	devices := []inventory.Device{
		{Hostname: "core-sw-01", Tags: []string{"change_window"}},
	}
	decision := engine.Evaluate(writePack(), Input{
		TicketRef: "CHG0012345",
		Confirmed: true,
	}, devices)
	if !decision.Allowed() {
		t.Errorf("custom tag should authorise: %v", decision.Reasons)
	}

	// The default tag no longer counts.
	devices[0].Tags = []string{"allow_execute"}
	decision = engine.Evaluate(writePack(), Input{
		TicketRef: "CHG0012345",
		Confirmed: true,
	}, devices)
	if decision.Allowed() {
		t.Error("default tag should not satisfy a custom tag requirement")
	}
}

func TestEvaluate_CustomTicketPattern(t *testing.T) {
	engine := newEngine(t, Config{TicketPattern: `^JIRA-\d{4}$`})

	decision := engine.Evaluate(writePack(), Input{
		TicketRef: "JIRA-1234",
		Confirmed: true,
	}, authorizedDevices())
	if !decision.Allowed() {
		t.Errorf("custom pattern ticket rejected: %v", decision.Reasons)
	}

	decision = engine.Evaluate(writePack(), Input{
		TicketRef: "CHG0012345",
		Confirmed: true,
	}, authorizedDevices())
	if decision.Allowed() {
		t.Error("default-format ticket should fail a custom pattern")
	}
}

func TestNew_InvalidTicketPattern(t *testing.T) {
	if _, err := New(Config{TicketPattern: "("}); err == nil {
		t.Error("malformed ticket pattern must fail construction")
	}
}

// ─── Statelessness ──────────────────────────────────────────────────────────

func TestEvaluate_Idempotent(t *testing.T) {
	engine := newEngine(t, Config{})
	input := Input{TicketRef: "BAD TICKET"}
	devices := []inventory.Device{{Hostname: "core-sw-01"}}

	first := engine.Evaluate(writePack(), input, devices)
	second := engine.Evaluate(writePack(), input, devices)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("same request evaluated twice diverged:\n%+v\n%+v", first, second)
	}
}

func TestEvaluate_TagChangeReflectedImmediately(t *testing.T) {
	engine := newEngine(t, Config{})
	input := Input{TicketRef: "CHG0012345", Confirmed: true}

	denied := engine.Evaluate(writePack(), input, []inventory.Device{{Hostname: "sw-01"}})
	if denied.Allowed() {
		t.Fatal("untagged device should deny")
	}

	allowed := engine.Evaluate(writePack(), input, []inventory.Device{
		{Hostname: "sw-01", Tags: []string{"allow_execute"}},
	})
	if !allowed.Allowed() {
		t.Errorf("tag added between requests should authorise immediately: %v", allowed.Reasons)
	}
}
