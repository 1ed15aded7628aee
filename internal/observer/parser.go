// Package observer watches a mail host's transport syslog over UDP,
// correlates cleanup and delivery lines into per-recipient delivery events,
// and publishes them to the ingest daemon over a resilient TCP channel.
package observer

import (
	"errors"
	"strings"
)

// ErrUnparseable reports a datagram that is not a recognizable transport
// log line.
var ErrUnparseable = errors.New("observer: unparseable log line")

// LineKind classifies a parsed transport log line.
type LineKind int

const (
	// LineOther is a line from a program we do not correlate.
	LineOther LineKind = iota
	// LineCleanup carries the queue-id to message-id binding.
	LineCleanup
	// LineDelivery carries a per-recipient delivery attempt result.
	LineDelivery
)

// Line is one parsed syslog record.
type Line struct {
	Program string
	QueueID string
	Kind    LineKind

	// Cleanup fields.
	MessageID string // verbatim content between < and >

	// Delivery fields.
	Recipient  string
	Relay      string
	DSN        string
	Status     string // raw transport status token (sent, bounced, ...)
	Diagnostic string
}

// Programs whose lines report per-recipient delivery attempts.
var deliveryPrograms = map[string]bool{
	"smtp":  true,
	"lmtp":  true,
	"local": true,
	"error": true,
	"pipe":  true,
}

// ParseLine parses a traditional-format syslog line from the mail
// transport. Lines from unknown programs parse with Kind LineOther so the
// caller can count them; structurally broken lines return ErrUnparseable.
func ParseLine(raw string) (*Line, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, ErrUnparseable
	}

	// Optional <PRI> prefix.
	if s[0] == '<' {
		end := strings.IndexByte(s, '>')
		if end < 0 {
			return nil, ErrUnparseable
		}
		s = s[end+1:]
	}

	// The program tag is the first token shaped like "name[pid]:". Skipping
	// to it tolerates both "Feb 16 10:00:01 host" and ISO timestamps.
	fields := strings.Fields(s)
	tagIdx := -1
	for i, f := range fields {
		if strings.HasSuffix(f, ":") && strings.Contains(f, "[") && strings.Contains(f, "]") {
			tagIdx = i
			break
		}
	}
	if tagIdx < 0 || tagIdx == len(fields)-1 {
		return nil, ErrUnparseable
	}

	tag := fields[tagIdx]
	program := tag[:strings.IndexByte(tag, '[')]
	// Normalize "postfix/smtp" to its subprogram.
	if _, sub, ok := strings.Cut(program, "/"); ok {
		program = sub
	}

	line := &Line{Program: program}
	rest := strings.Join(fields[tagIdx+1:], " ")

	// The queue id is the colon-terminated token right after the tag.
	qid, tail, ok := strings.Cut(rest, ": ")
	if !ok || qid == "" || strings.ContainsAny(qid, " =<") {
		// Lines without a queue id (e.g. "statistics:", "connect from")
		// carry nothing to correlate.
		return line, nil
	}
	line.QueueID = qid

	switch {
	case program == "cleanup":
		mid, found := cutAngle(tail, "message-id=")
		if !found {
			return line, nil
		}
		line.Kind = LineCleanup
		line.MessageID = mid

	case deliveryPrograms[program] || program == "bounce":
		if !strings.Contains(tail, "status=") {
			return line, nil
		}
		line.Kind = LineDelivery
		parseDelivery(tail, line)
	}

	return line, nil
}

// cutAngle extracts the <...> payload following the given key.
func cutAngle(s, key string) (string, bool) {
	idx := strings.Index(s, key)
	if idx < 0 {
		return "", false
	}
	v := s[idx+len(key):]
	if !strings.HasPrefix(v, "<") {
		return "", false
	}
	end := strings.IndexByte(v, '>')
	if end < 0 {
		return "", false
	}
	return v[1:end], true
}

// parseDelivery extracts the comma-separated key=value attributes of a
// delivery attempt line. status= terminates the attribute list; everything
// after its first word is the diagnostic, which may itself contain commas.
func parseDelivery(tail string, line *Line) {
	idx := strings.Index(tail, "status=")
	attrs, statusPart := tail[:idx], tail[idx+len("status="):]

	word, remainder, _ := strings.Cut(statusPart, " ")
	line.Status = word
	diag := strings.TrimSpace(remainder)
	diag = strings.TrimPrefix(diag, "(")
	diag = strings.TrimSuffix(diag, ")")
	line.Diagnostic = diag

	for _, part := range strings.Split(attrs, ", ") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "to":
			line.Recipient = strings.Trim(value, "<>")
		case "orig_to":
			if line.Recipient == "" {
				line.Recipient = strings.Trim(value, "<>")
			}
		case "relay":
			line.Relay = strings.TrimSuffix(value, ",")
		case "dsn":
			line.DSN = strings.TrimSuffix(value, ",")
		}
	}
}

// HashFromMessageID splits a captured message-id into its embedded hash and
// domain. Returns ok=false when the local part is not a 32-char lowercase
// alphanumeric token.
func HashFromMessageID(messageID string) (hash, domain string, ok bool) {
	local, dom, found := strings.Cut(messageID, "@")
	if !found || len(local) != 32 {
		return "", "", false
	}
	for i := 0; i < len(local); i++ {
		c := local[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') {
			return "", "", false
		}
	}
	return local, dom, true
}

// MapStatus translates a transport status token to the wire event status.
// Unknown tokens map to "error" so operators see them rather than losing
// them.
func MapStatus(transportStatus string) string {
	switch transportStatus {
	case "sent":
		return "delivered"
	case "bounced":
		return "bounced"
	case "deferred":
		return "deferred"
	case "delayed":
		return "delayed"
	default:
		return "error"
	}
}
