package wire

import (
	"errors"
	"testing"
	"time"
)

func sampleEvent() *Event {
	return &Event{
		MessageHash: "0123456789abcdef0123456789abcdef",
		Recipient:   "r@d",
		DSN:         "5.7.1",
		Status:      "bounced",
		Diagnostic:  `host said: 550 "no such user"`,
		Relay:       "mx[1.2.3.4]:25",
		Timestamp:   time.Date(2026, 2, 16, 10, 0, 2, 0, time.UTC),
		Source:      "mail1.example.net",
	}
}

func TestEventRoundTrip(t *testing.T) {
	want := sampleEvent()

	got, err := ParseEvent(EncodeEvent(want))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if *got != *want {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestEventQuotingEscapes(t *testing.T) {
	want := sampleEvent()
	want.Diagnostic = `said "bad \ path" today`

	got, err := ParseEvent(EncodeEvent(want))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if got.Diagnostic != want.Diagnostic {
		t.Errorf("diagnostic: got %q want %q", got.Diagnostic, want.Diagnostic)
	}
}

func TestParseEventJSON(t *testing.T) {
	body := `{"message_hash":"0123456789abcdef0123456789abcdef","recipient":"r@d","dsn":"4.4.1","status":"deferred","timestamp":"2026-02-16T10:00:02Z","source":"mail1"}`

	got, err := ParseEvent([]byte(body))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if got.Status != "deferred" || got.DSN != "4.4.1" || got.Recipient != "r@d" {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestParseEventValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"short hash", "message_hash=abc recipient=r@d dsn=5.0.0 status=bounced"},
		{"uppercase hash", "message_hash=0123456789ABCDEF0123456789ABCDEF recipient=r@d dsn=5.0.0 status=bounced"},
		{"bad dsn", "message_hash=0123456789abcdef0123456789abcdef recipient=r@d dsn=five status=bounced"},
		{"bad status", "message_hash=0123456789abcdef0123456789abcdef recipient=r@d dsn=5.0.0 status=exploded"},
		{"no recipient", "message_hash=0123456789abcdef0123456789abcdef dsn=5.0.0 status=bounced"},
		{"unterminated quote", `message_hash=0123456789abcdef0123456789abcdef recipient="r@d dsn=5.0.0 status=bounced`},
	}

	for _, tc := range cases {
		if _, err := ParseEvent([]byte(tc.body)); !errors.Is(err, ErrProtocol) {
			t.Errorf("%s: expected ErrProtocol, got %v", tc.name, err)
		}
	}
}

func TestHeartbeatEvent(t *testing.T) {
	hb := &Event{Heartbeat: true, Source: "mail1"}

	got, err := ParseEvent(EncodeEvent(hb))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if !got.Heartbeat || got.Source != "mail1" {
		t.Errorf("unexpected heartbeat %+v", got)
	}
}

func TestValidMessageHash(t *testing.T) {
	if !ValidMessageHash("0123456789abcdef0123456789abcdef") {
		t.Error("valid hash rejected")
	}
	for _, bad := range []string{"", "short", "0123456789ABCDEF0123456789ABCDEF", "0123456789abcdef0123456789abcde-"} {
		if ValidMessageHash(bad) {
			t.Errorf("invalid hash %q accepted", bad)
		}
	}
}
