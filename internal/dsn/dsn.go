// Package dsn parses RFC 3464 delivery status notifications into the
// per-recipient records the pipeline persists.
package dsn

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message"
)

// ErrParse reports a payload that is not a usable DSN. Permanent: the spool
// item moves to failed/.
var ErrParse = errors.New("dsn: malformed report")

// ErrNoMessageHash reports a DSN whose original message cannot be tied back
// to an outgoing row. Permanent.
var ErrNoMessageHash = errors.New("dsn: no message hash")

// Recipient is one per-recipient group of the delivery-status part.
type Recipient struct {
	// Recipient is the original envelope recipient address.
	Recipient string
	// Action is the RFC 3464 action field: failed, delayed, delivered,
	// relayed or expanded.
	Action string
	// Status is the three-number DSN code, e.g. "5.1.1".
	Status string
	// Diagnostic is the free-text Diagnostic-Code remainder, if any.
	Diagnostic string
}

// Class returns the leading DSN class digit ("4", "5") or "" when the
// status is absent or malformed.
func (r Recipient) Class() string {
	if len(r.Status) > 1 && r.Status[1] == '.' && (r.Status[0] == '4' || r.Status[0] == '5') {
		return r.Status[:1]
	}
	return ""
}

// Report is a parsed DSN.
type Report struct {
	// MessageHash ties the report to the outgoing message.
	MessageHash string
	// Recipients holds one entry per recipient group.
	Recipients []Recipient
	// Arrival is the Arrival-Date of the report when present.
	Arrival time.Time
}

// isHash reports whether s is a 32-character lowercase alphanumeric token.
func isHash(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') {
			return false
		}
	}
	return true
}

// hashFromMessageID extracts the hash from a Message-ID of the form
// <hash@domain>.
func hashFromMessageID(msgID string) string {
	v := strings.TrimSpace(msgID)
	v = strings.TrimPrefix(v, "<")
	v = strings.TrimSuffix(v, ">")
	local, _, ok := strings.Cut(v, "@")
	if !ok || !isHash(local) {
		return ""
	}
	return local
}

// scanForHash finds the first 32-char lowercase-alnum token in a header
// value such as In-Reply-To or References.
func scanForHash(v string) string {
	start := -1
	for i := 0; i <= len(v); i++ {
		isTok := i < len(v) && ((v[i] >= '0' && v[i] <= '9') || (v[i] >= 'a' && v[i] <= 'z'))
		if isTok {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start == 32 {
			return v[start:i]
		}
		start = -1
	}
	return ""
}

// Parse decodes a raw DSN. It requires a multipart/report (or at least an
// embedded delivery-status part) with one or more recipient groups, and a
// recoverable message hash; anything less is a permanent parse failure.
func Parse(body []byte) (*Report, error) {
	entity, err := message.Read(bytes.NewReader(body))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	report := &Report{}

	// Direct hint on the report itself wins over the embedded original.
	if v := entity.Header.Get("X-Bouncer-Hash"); isHash(strings.TrimSpace(v)) {
		report.MessageHash = strings.TrimSpace(v)
	}

	if err := walk(entity, report); err != nil {
		return nil, err
	}

	if len(report.Recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipient groups", ErrParse)
	}
	if report.MessageHash == "" {
		return nil, ErrNoMessageHash
	}
	return report, nil
}

// walk descends multipart entities collecting the delivery-status and
// original-message parts.
func walk(entity *message.Entity, report *Report) error {
	mediaType, _, _ := entity.Header.ContentType()

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		mr := entity.MultipartReader()
		if mr == nil {
			return nil
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				if message.IsUnknownCharset(err) {
					continue
				}
				return fmt.Errorf("%w: reading part: %v", ErrParse, err)
			}
			if err := walk(part, report); err != nil {
				return err
			}
		}

	case mediaType == "message/delivery-status" || mediaType == "message/global-delivery-status":
		return parseDeliveryStatus(entity.Body, report)

	case mediaType == "message/rfc822" || mediaType == "message/global" || mediaType == "text/rfc822-headers":
		parseOriginal(entity.Body, report)
		return nil
	}
	return nil
}

// parseDeliveryStatus reads the per-message block then every per-recipient
// group of a delivery-status body.
func parseDeliveryStatus(body io.Reader, report *Report) error {
	tr := textproto.NewReader(bufio.NewReader(body))

	// Per-message fields.
	perMessage, err := tr.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: delivery-status per-message block: %v", ErrParse, err)
	}
	if v := perMessage.Get("Arrival-Date"); v != "" {
		if ts, err := mail.ParseDate(v); err == nil {
			report.Arrival = ts
		}
	}

	// Per-recipient groups until EOF.
	for {
		group, err := tr.ReadMIMEHeader()
		if len(group) > 0 {
			rcpt := Recipient{
				Recipient:  addressFromField(firstNonEmpty(group.Get("Original-Recipient"), group.Get("Final-Recipient"))),
				Action:     strings.ToLower(strings.TrimSpace(group.Get("Action"))),
				Status:     strings.TrimSpace(group.Get("Status")),
				Diagnostic: diagnosticText(group.Get("Diagnostic-Code")),
			}
			if rcpt.Recipient != "" {
				report.Recipients = append(report.Recipients, rcpt)
			}
		}
		if err != nil {
			return nil
		}
	}
}

// parseOriginal extracts the message hash from the embedded original
// message's headers.
func parseOriginal(body io.Reader, report *Report) {
	if report.MessageHash != "" {
		return
	}
	orig, err := message.Read(body)
	if err != nil && !message.IsUnknownCharset(err) {
		return
	}
	if h := hashFromMessageID(orig.Header.Get("Message-Id")); h != "" {
		report.MessageHash = h
		return
	}
	for _, field := range []string{"In-Reply-To", "References"} {
		if h := scanForHash(orig.Header.Get(field)); h != "" {
			report.MessageHash = h
			return
		}
	}
}

// firstNonEmpty returns the first non-empty trimmed value.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// addressFromField strips the "rfc822;" type prefix from a recipient field.
func addressFromField(v string) string {
	v = strings.TrimSpace(v)
	if _, addr, ok := strings.Cut(v, ";"); ok {
		v = addr
	}
	return strings.TrimSpace(v)
}

// diagnosticText strips the "smtp;" type prefix and folds whitespace from a
// Diagnostic-Code value.
func diagnosticText(v string) string {
	v = addressFromField(v)
	return strings.Join(strings.Fields(v), " ")
}
