package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult is the outcome of walking an audit log.
type VerifyResult struct {
	Valid     bool           `json:"valid"`
	Lines     int            `json:"lines"`
	Events    map[string]int `json:"events,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorLine int            `json:"error_line,omitempty"`
}

var knownEvents = map[string]bool{
	EventAllow:    true,
	EventRedirect: true,
	EventGrant:    true,
	EventDecline:  true,
	EventAbort:    true,
}

// Verify walks the log at path and checks that every prev_hash links to the
// line before it, every event name is known and every grant carries an
// expiry. It stops at the first bad line.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	fail := func(line int, format string, args ...any) VerifyResult {
		return VerifyResult{Lines: line - 1, Error: fmt.Sprintf(format, args...), ErrorLine: line}
	}

	events := make(map[string]int)
	want := GenesisHash
	n := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
		line := scanner.Bytes()

		var entry AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fail(n, "parse error: %v", err)
		}
		if entry.PrevHash != want {
			if n == 1 {
				return fail(n, "first entry prev_hash is %q, expected genesis hash", entry.PrevHash)
			}
			return fail(n, "hash mismatch: expected %s, got %s", want, entry.PrevHash)
		}
		if !knownEvents[entry.Event] {
			return fail(n, "unknown event %q", entry.Event)
		}
		if entry.Event == EventGrant && entry.ExpiresAt <= 0 {
			return fail(n, "grant without expires_at")
		}

		events[entry.Event]++
		// scanner reuses its buffer; hash before the next Scan
		want = HashLine(line)
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Lines: n, Error: fmt.Sprintf("scan: %v", err)}
	}

	return VerifyResult{Valid: true, Lines: n, Events: events}
}
