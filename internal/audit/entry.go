package audit

// Event names recorded in the audit log.
const (
	EventAllow    = "allow"
	EventRedirect = "redirect"
	EventGrant    = "grant"
	EventDecline  = "decline"
	EventAbort    = "abort"
)

// AuditEntry is one line in the hash-chained JSONL audit log.
// All fields are plain values (no map[string]any) to keep json.Marshal
// field order deterministic for reproducible hashing.
type AuditEntry struct {
	Timestamp string `json:"ts"`
	Event     string `json:"event"`
	TabID     int    `json:"tab_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	URL       string `json:"url"`
	Reason    string `json:"reason"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	PrevHash  string `json:"prev_hash"`
}
