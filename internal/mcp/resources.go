package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"assistnerd-mcp-server/internal/facts"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"assistnerd://about",
			"AssistNERD About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("High-level server info and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			"assistnerd://session/summary",
			"Session Summary",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Current activity snapshot, engine stats, and pending help requests in one read."),
		),
		s.handleSummaryResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"assistnerd://facts/{predicate}{?limit}",
			"Behavioral Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Read a token-efficient slice of buffered facts for one predicate."),
		),
		s.handleFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"notes": []string{
			"Resources are read-only context endpoints; use tools for actions/mutations.",
			"Start with connect-browser and watch-app, then read session/summary.",
			"Help offers appear in list-help-requests; resolve them with resolve-help-request.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}

	return jsonResource(request.Params.URI, payload)
}

func (s *Server) handleSummaryResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"session_id": s.coord.SessionID(),
		"snapshot":   s.coord.Snapshot(),
		"engine":     s.coord.EngineStats(),
	}
	if s.relay != nil {
		payload["pending_offers"] = s.relay.Pending()
	}
	if s.monitor != nil {
		payload["connected"] = s.monitor.IsConnected()
		payload["watching"] = s.monitor.IsWatching()
	}

	return jsonResource(request.Params.URI, payload)
}

func (s *Server) handleFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.facts == nil {
		return nil, fmt.Errorf("fact store unavailable")
	}

	predicate := argString(request.Params.Arguments["predicate"])
	if predicate == "" {
		return nil, fmt.Errorf("missing predicate")
	}
	limit := asInt(request.Params.Arguments["limit"])
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	source := s.facts.ByPredicate(predicate)
	out := source
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	if out == nil {
		out = []facts.Fact{}
	}

	payload := map[string]interface{}{
		"predicate": predicate,
		"limit":     limit,
		"count":     len(out),
		"facts":     out,
	}
	return jsonResource(request.Params.URI, payload)
}

func jsonResource(uri string, payload map[string]interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}
