package observer

import (
	"errors"
	"testing"
)

const hash = "0123456789abcdef0123456789abcdef"

func TestParseCleanupLine(t *testing.T) {
	raw := "<134>Feb 16 10:00:01 mail1 postfix/cleanup[123]: 4F2AB1C: message-id=<" + hash + "@example.org>"

	line, err := ParseLine(raw)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if line.Kind != LineCleanup {
		t.Fatalf("kind: got %d", line.Kind)
	}
	if line.Program != "cleanup" {
		t.Errorf("program: got %q", line.Program)
	}
	if line.QueueID != "4F2AB1C" {
		t.Errorf("queue id: got %q", line.QueueID)
	}
	if line.MessageID != hash+"@example.org" {
		t.Errorf("message id: got %q", line.MessageID)
	}
}

func TestParseSmtpBounceLine(t *testing.T) {
	raw := "<134>Feb 16 10:00:02 mail1 postfix/smtp[456]: 4F2AB1C: to=<r@d.example>, " +
		"relay=mx.d.example[1.2.3.4]:25, delay=1.3, delays=0.1/0/0.9/0.3, dsn=5.7.1, " +
		"status=bounced (host mx.d.example said: 550 5.7.1 blocked, see https://d.example)"

	line, err := ParseLine(raw)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if line.Kind != LineDelivery {
		t.Fatalf("kind: got %d", line.Kind)
	}
	if line.QueueID != "4F2AB1C" {
		t.Errorf("queue id: got %q", line.QueueID)
	}
	if line.Recipient != "r@d.example" {
		t.Errorf("recipient: got %q", line.Recipient)
	}
	if line.Relay != "mx.d.example[1.2.3.4]:25" {
		t.Errorf("relay: got %q", line.Relay)
	}
	if line.DSN != "5.7.1" {
		t.Errorf("dsn: got %q", line.DSN)
	}
	if line.Status != "bounced" {
		t.Errorf("status: got %q", line.Status)
	}
	// The diagnostic keeps its internal commas.
	want := "host mx.d.example said: 550 5.7.1 blocked, see https://d.example"
	if line.Diagnostic != want {
		t.Errorf("diagnostic:\n got %q\nwant %q", line.Diagnostic, want)
	}
}

func TestParseSentLine(t *testing.T) {
	raw := "Feb 16 10:00:03 mail1 postfix/smtp[456]: AAA111: to=<ok@d.example>, relay=mx[2.3.4.5]:25, dsn=2.0.0, status=sent (250 2.0.0 OK)"

	line, err := ParseLine(raw)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if line.Kind != LineDelivery || line.Status != "sent" || line.DSN != "2.0.0" {
		t.Errorf("unexpected line %+v", line)
	}
}

func TestParseUnknownProgram(t *testing.T) {
	raw := "<134>Feb 16 10:00:01 mail1 postfix/qmgr[99]: 4F2AB1C: from=<s@d>, size=1234, nrcpt=1 (queue active)"

	line, err := ParseLine(raw)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if line.Kind != LineOther {
		t.Errorf("expected LineOther, got %d", line.Kind)
	}
	if line.Program != "qmgr" {
		t.Errorf("program: got %q", line.Program)
	}
}

func TestParseNoQueueID(t *testing.T) {
	raw := "Feb 16 10:00:01 mail1 postfix/smtpd[12]: connect from client.d.example[9.8.7.6]"

	line, err := ParseLine(raw)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if line.Kind != LineOther || line.QueueID != "" {
		t.Errorf("unexpected line %+v", line)
	}
}

func TestParseUnparseable(t *testing.T) {
	for _, raw := range []string{"", "   ", "<134 no closing bracket", "no tag here at all"} {
		if _, err := ParseLine(raw); !errors.Is(err, ErrUnparseable) {
			t.Errorf("ParseLine(%q): expected ErrUnparseable, got %v", raw, err)
		}
	}
}

func TestHashFromMessageID(t *testing.T) {
	h, d, ok := HashFromMessageID(hash + "@example.org")
	if !ok || h != hash || d != "example.org" {
		t.Errorf("got %q %q %v", h, d, ok)
	}

	for _, bad := range []string{"", "short@d", hash, "ABCDEF6789abcdef0123456789abcdef@d"} {
		if _, _, ok := HashFromMessageID(bad); ok {
			t.Errorf("HashFromMessageID(%q) accepted", bad)
		}
	}
}

func TestMapStatus(t *testing.T) {
	cases := map[string]string{
		"sent":     "delivered",
		"bounced":  "bounced",
		"deferred": "deferred",
		"delayed":  "delayed",
		"expired":  "error",
		"weird":    "error",
	}
	for in, want := range cases {
		if got := MapStatus(in); got != want {
			t.Errorf("MapStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
