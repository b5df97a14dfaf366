package entity

import "time"

// AuditActor identifies who performed an audited action.
type AuditActor struct {
	UserID   string
	APIKeyID string
}

// AuditEntry is one tamper-evident record in the hash chain (spec.md
// §3 / §4.9). Hash is computed by internal/infrastructure/audit over every field except
// itself.
type AuditEntry struct {
	Seq       int64
	Timestamp time.Time
	Actor     AuditActor
	Action    string
	Resource  string
	IP        string
	Outcome   string
	Detail    string
	PrevHash  string
	Hash      string
}
