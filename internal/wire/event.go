package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is the structured delivery record carried in a kind=observer_event
// frame body. A heartbeat event has Heartbeat set and every delivery field
// empty; it probes connection health and is never applied to the database.
type Event struct {
	MessageHash string    `json:"message_hash,omitempty"`
	Recipient   string    `json:"recipient,omitempty"`
	DSN         string    `json:"dsn,omitempty"`
	Status      string    `json:"status,omitempty"`
	Diagnostic  string    `json:"diagnostic,omitempty"`
	Relay       string    `json:"relay,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	Source      string    `json:"source,omitempty"`
	Heartbeat   bool      `json:"heartbeat,omitempty"`
}

// Delivery statuses accepted on the wire.
var eventStatuses = map[string]bool{
	"delivered": true,
	"bounced":   true,
	"deferred":  true,
	"delayed":   true,
	"error":     true,
}

// ValidMessageHash reports whether s is a 32-character lowercase
// alphanumeric token.
func ValidMessageHash(s string) bool {
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

// validDSN reports whether s looks like N.N.N.
func validDSN(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for i := 0; i < len(p); i++ {
			if p[i] < '0' || p[i] > '9' {
				return false
			}
		}
	}
	return true
}

// Validate checks the event fields against the wire contract.
func (e *Event) Validate() error {
	if e.Heartbeat {
		return nil
	}
	if !ValidMessageHash(e.MessageHash) {
		return fmt.Errorf("%w: bad message_hash %q", ErrProtocol, e.MessageHash)
	}
	if e.Recipient == "" {
		return fmt.Errorf("%w: missing recipient", ErrProtocol)
	}
	if !validDSN(e.DSN) {
		return fmt.Errorf("%w: bad dsn %q", ErrProtocol, e.DSN)
	}
	if !eventStatuses[e.Status] {
		return fmt.Errorf("%w: bad status %q", ErrProtocol, e.Status)
	}
	return nil
}

// needsQuoting reports whether a key=value value must be quoted.
func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsAny(s, " \t\"\\")
}

// appendValue appends value to b, quoting and escaping when required.
func appendValue(b *strings.Builder, value string) {
	if !needsQuoting(value) {
		b.WriteString(value)
		return
	}
	b.WriteByte('"')
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
}

// EncodeEvent renders the single-line key=value form. Producers always emit
// this form; ParseEvent also accepts JSON with the same keys.
func EncodeEvent(e *Event) []byte {
	var b strings.Builder
	if e.Heartbeat {
		b.WriteString("heartbeat=1")
		if e.Source != "" {
			b.WriteString(" source=")
			appendValue(&b, e.Source)
		}
		return []byte(b.String())
	}

	pairs := []struct{ key, value string }{
		{"message_hash", e.MessageHash},
		{"recipient", e.Recipient},
		{"dsn", e.DSN},
		{"status", e.Status},
		{"diagnostic", e.Diagnostic},
		{"relay", e.Relay},
		{"timestamp", e.Timestamp.UTC().Format(time.RFC3339)},
		{"source", e.Source},
	}
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		appendValue(&b, p.value)
	}
	return []byte(b.String())
}

// ParseEvent decodes an observer event body in either the key=value form or
// JSON with the same keys, then validates it.
func ParseEvent(body []byte) (*Event, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty event body", ErrProtocol)
	}

	e := &Event{}
	if trimmed[0] == '{' {
		if err := json.Unmarshal([]byte(trimmed), e); err != nil {
			return nil, fmt.Errorf("%w: invalid event json: %v", ErrProtocol, err)
		}
	} else {
		if err := parsePairs(trimmed, e); err != nil {
			return nil, err
		}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// parsePairs scans the key=value form with quoted-string handling.
func parsePairs(line string, e *Event) error {
	i := 0
	for i < len(line) {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i >= len(line) {
			break
		}
		eq := strings.IndexByte(line[i:], '=')
		if eq < 0 {
			return fmt.Errorf("%w: token without '=' in event", ErrProtocol)
		}
		key := line[i : i+eq]
		i += eq + 1

		var value string
		if i < len(line) && line[i] == '"' {
			i++
			var b strings.Builder
			closed := false
			for i < len(line) {
				c := line[i]
				if c == '\\' && i+1 < len(line) {
					b.WriteByte(line[i+1])
					i += 2
					continue
				}
				if c == '"' {
					i++
					closed = true
					break
				}
				b.WriteByte(c)
				i++
			}
			if !closed {
				return fmt.Errorf("%w: unterminated quoted value", ErrProtocol)
			}
			value = b.String()
		} else {
			end := i
			for end < len(line) && line[end] != ' ' && line[end] != '\t' {
				end++
			}
			value = line[i:end]
			i = end
		}

		switch key {
		case "message_hash":
			e.MessageHash = value
		case "recipient":
			e.Recipient = value
		case "dsn":
			e.DSN = value
		case "status":
			e.Status = value
		case "diagnostic":
			e.Diagnostic = value
		case "relay":
			e.Relay = value
		case "timestamp":
			ts, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp %q", ErrProtocol, value)
			}
			e.Timestamp = ts
		case "source":
			e.Source = value
		case "heartbeat":
			e.Heartbeat = value == "1" || value == "true"
		default:
			// Unknown keys are tolerated for forward compatibility.
		}
	}
	return nil
}
