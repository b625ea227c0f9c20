package mcp

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/hallpass/internal/audit"
	"github.com/ppiankov/hallpass/internal/match"
)

// --- Input/Output types ---

// CheckInput defines parameters for the hallpass_check tool.
type CheckInput struct {
	URL string `json:"url" jsonschema:"full URL to evaluate"`
}

// CheckOutput contains the gate decision.
type CheckOutput struct {
	Action      string `json:"action"`
	Rule        string `json:"rule,omitempty"`
	Reason      string `json:"reason"`
	RedirectURL string `json:"redirect_url,omitempty"`
	VisitCount  int    `json:"visit_count"`
}

// StatusInput is empty.
type StatusInput struct{}

// StatusOutput describes the stored state.
type StatusOutput struct {
	PassActive            bool           `json:"pass_active"`
	PassExpiresAt         string         `json:"pass_expires_at,omitempty"`
	RemainingSeconds      int64          `json:"remaining_seconds"`
	BlockedSites          []string       `json:"blocked_sites"`
	FrictionMode          string         `json:"friction_mode"`
	UnlockDurationMinutes int            `json:"unlock_duration_minutes"`
	VisitCounts           map[string]int `json:"visit_counts"`
	TotalVisits           int            `json:"total_visits"`
}

// AuditTailInput defines parameters for the hallpass_audit_tail tool.
type AuditTailInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"number of entries to return (default 20)"`
}

// AuditTailOutput lists audit entries, oldest first.
type AuditTailOutput struct {
	Entries []audit.AuditEntry `json:"entries"`
}

// --- Handlers ---

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	if input.URL == "" {
		return nil, CheckOutput{}, errors.New("url is required")
	}
	d := s.gk.Check(ctx, input.URL)
	counts, _ := s.grants.VisitCounts(ctx)
	_, n := match.LookupCount(input.URL, counts)

	return nil, CheckOutput{
		Action:      string(d.Action),
		Rule:        d.Rule,
		Reason:      d.Reason,
		RedirectURL: d.RedirectURL,
		VisitCount:  n,
	}, nil
}

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	// store errors degrade to defaults, like the gate
	snap, _ := s.grants.Snapshot(ctx)
	now := s.now()
	out := StatusOutput{
		PassActive:            snap.Pass.Active(now),
		RemainingSeconds:      int64(snap.Pass.Remaining(now) / time.Second),
		BlockedSites:          snap.Settings.BlockedSites,
		FrictionMode:          string(snap.Settings.Mode),
		UnlockDurationMinutes: snap.Settings.UnlockDurationMinutes,
		VisitCounts:           make(map[string]int, len(snap.VisitCounts)),
		TotalVisits:           snap.VisitCounts.Total(),
	}
	if snap.Pass.ExpiresAt > 0 {
		out.PassExpiresAt = time.UnixMilli(snap.Pass.ExpiresAt).UTC().Format(time.RFC3339)
	}
	for _, vc := range snap.VisitCounts {
		out.VisitCounts[vc.Key] = vc.Count
	}
	return nil, out, nil
}

func (s *Server) handleAuditTail(ctx context.Context, req *mcpsdk.CallToolRequest, input AuditTailInput) (*mcpsdk.CallToolResult, AuditTailOutput, error) {
	if s.auditPath == "" {
		return nil, AuditTailOutput{}, errors.New("audit log is not configured")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	entries, err := audit.Tail(s.auditPath, limit)
	if err != nil {
		return nil, AuditTailOutput{}, err
	}
	if entries == nil {
		entries = []audit.AuditEntry{}
	}
	return nil, AuditTailOutput{Entries: entries}, nil
}
