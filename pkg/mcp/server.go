// Package mcp adapts the governor to the Model Context Protocol so
// agent runtimes can negotiate quota before calling a platform and
// report outcomes after. The server links the governor in-process; it
// runs inside the daemon binary on stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ilg-ai/warden/pkg/governor"
	"github.com/ilg-ai/warden/pkg/store"
)

// Governor is the admission surface the MCP tools call into.
type Governor interface {
	Admit(ctx context.Context, provider string) (governor.Decision, error)
	Record(ctx context.Context, provider string, res governor.CallResult) error
	Status(ctx context.Context) ([]governor.ProviderStatus, error)
}

// Server adapts the governor to MCP.
type Server struct {
	mcpServer *server.MCPServer
	gov       Governor
	ledger    store.Ledger
}

// NewServer creates the MCP server and registers resources, tools and
// prompts.
func NewServer(gov Governor, ledger store.Ledger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"warden",
			"1.0.0",
		),
		gov:    gov,
		ledger: ledger,
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	// warden://status
	s.mcpServer.AddResource(mcp.NewResource(
		"warden://status",
		"Provider Quota Status",
		mcp.WithResourceDescription("Per-provider window usage, rule states, auth source usability and backoff gates"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadStatus)

	// warden://usage
	s.mcpServer.AddResource(mcp.NewResource(
		"warden://usage",
		"Recent Usage Records",
		mcp.WithResourceDescription("The most recent ledger records across all providers"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadUsage)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"admit_request",
		mcp.WithDescription("Ask whether one call to a provider may proceed right now. Returns the decision with remaining quota, or a denial with the earliest retry time."),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider name (e.g. 'linkedin', 'reddit', 'twitter')")),
	), s.handleAdmitRequest)

	s.mcpServer.AddTool(mcp.NewTool(
		"record_outcome",
		mcp.WithDescription("Report the outcome of a call that was admitted earlier. Every admitted call must be recorded, success or failure."),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider name")),
		mcp.WithString("outcome", mcp.Required(), mcp.Description("'success' or 'failure'")),
		mcp.WithString("auth_source", mcp.Description("Auth source the call used")),
		mcp.WithBoolean("quota_rejected", mcp.Description("True when the provider itself rejected the call for quota or auth (401/403/429)")),
	), s.handleRecordOutcome)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"warden-aware",
		mcp.WithPromptDescription("Explains how to work with quota-governed providers"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadStatus(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	statuses, err := s.gov.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute status: %w", err)
	}

	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReadUsage(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	records, err := s.ledger.QueryUsage(ctx, store.UsageFilter{Limit: 50})
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal usage: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleAdmitRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider := mcp.ParseString(request, "provider", "")
	if provider == "" {
		return mcp.NewToolResultError("provider is required"), nil
	}

	dec, err := s.gov.Admit(ctx, provider)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("admission error: %v", err)), nil
	}

	if dec.Allowed {
		return mcp.NewToolResultText(fmt.Sprintf(
			"ALLOWED: %s may be called now.\nState: %s\nRemaining in tightest window: %d\nAuth source: %s",
			provider, dec.State, dec.Remaining, dec.AuthSource.Name)), nil
	}

	msg := fmt.Sprintf("DENIED: %s (%s)", provider, dec.Reason)
	if !dec.RetryAfter.IsZero() {
		msg += fmt.Sprintf("\nRetry after: %s", dec.RetryAfter.Format(time.RFC3339))
	}
	msg += "\nRespect this decision: do not call the provider, wait or pick another data source."
	return mcp.NewToolResultText(msg), nil
}

func (s *Server) handleRecordOutcome(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider := mcp.ParseString(request, "provider", "")
	outcome := mcp.ParseString(request, "outcome", "")
	authSource := mcp.ParseString(request, "auth_source", "")
	quotaRejected := mcp.ParseBoolean(request, "quota_rejected", false)

	if provider == "" || outcome == "" {
		return mcp.NewToolResultError("provider and outcome are required"), nil
	}
	if outcome != string(store.OutcomeSuccess) && outcome != string(store.OutcomeFailure) {
		return mcp.NewToolResultError("outcome must be 'success' or 'failure'"), nil
	}

	err := s.gov.Record(ctx, provider, governor.CallResult{
		Outcome:       store.Outcome(outcome),
		AuthSource:    authSource,
		QuotaRejected: quotaRejected,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("record error: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Recorded %s for %s.", outcome, provider)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "warden-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with Warden, a quota governor for external data providers.

Concepts:
- Provider: an external platform with hard usage limits (e.g. 'linkedin', 'reddit', 'twitter').
- Window: the period a quota applies to (rolling minute, calendar day, calendar month).
- Hard stop: the internal limit below the provider's nominal quota. Once reached, no call goes out until the window resets.
- Auth source: the credential a call uses. Sources are tried in priority order; exhausted sources recover when the window resets.

Protocol:
1. Before calling a provider, use 'admit_request'. Only proceed on ALLOWED.
2. After every admitted call, use 'record_outcome' with the real result, success or failure.
3. If admission is DENIED, respect the decision. Wait until the retry time or work with another provider.
`

	return mcp.NewGetPromptResult(
		"warden-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
