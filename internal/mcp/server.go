// Package mcp exposes read-only hallpass tools to MCP clients over stdio.
// No tool can grant a pass or change settings.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/hallpass/internal/gatekeeper"
	"github.com/ppiankov/hallpass/internal/store"
)

// Config holds MCP server configuration.
type Config struct {
	Grants          *store.Grants
	InterventionURL string
	AuditLogPath    string
	Version         string
	Logger          *slog.Logger
	Now             func() time.Time
}

// Server wraps the MCP SDK server with hallpass's read-only tools.
type Server struct {
	mcpServer *mcpsdk.Server
	grants    *store.Grants
	gk        *gatekeeper.Gatekeeper
	auditPath string
	now       func() time.Time
}

// New creates an MCP server over grants.
func New(cfg Config) (*Server, error) {
	if cfg.Grants == nil {
		return nil, errors.New("mcp: grants store is required")
	}
	if cfg.InterventionURL == "" {
		cfg.InterventionURL = "http://127.0.0.1:8787/intervention"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	gk, err := gatekeeper.New(cfg.Grants, gatekeeper.Config{
		InterventionURL: cfg.InterventionURL,
		Now:             cfg.Now,
		Logger:          cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		grants:    cfg.Grants,
		gk:        gk,
		auditPath: cfg.AuditLogPath,
		now:       cfg.Now,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "hallpass",
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all hallpass tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "hallpass_check",
		Description: "Check whether navigating to a URL right now would be let through or sent to the intervention page. Does not count a visit.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "hallpass_status",
		Description: "Show the current hall pass, the block list, the friction mode and per-site visit counts.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "hallpass_audit_tail",
		Description: "Return the most recent entries of the decision audit log.",
	}, s.handleAuditTail)
}
