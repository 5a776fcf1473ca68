package mcp

import (
	"context"
	"fmt"

	"assistnerd-mcp-server/internal/qase"
)

// ReportDefectTool files a defect in the configured Qase project.
type ReportDefectTool struct {
	client *qase.Client
}

func (t *ReportDefectTool) Name() string { return "report-defect" }
func (t *ReportDefectTool) Description() string {
	return `Create a defect in the configured Qase project.

PREREQUISITE: a Qase API token and project code must be configured.

WHEN TO USE:
- A page anomaly or script error turned out to be a real product bug
- The user accepted a help offer that ends in filing a defect

severity defaults to "major". The call is rate limited and retried on
transient failures.

Returns: {defect_id}`
}
func (t *ReportDefectTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Short defect title",
			},
			"actual_result": map[string]interface{}{
				"type":        "string",
				"description": "What actually happened, including error text",
			},
			"severity": map[string]interface{}{
				"type":        "string",
				"description": "Qase severity (blocker, critical, major, normal, minor, trivial)",
			},
		},
		"required": []string{"title", "actual_result"},
	}
}
func (t *ReportDefectTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.client == nil {
		return nil, fmt.Errorf("qase integration not configured")
	}

	title := getStringArg(args, "title")
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	actual := getStringArg(args, "actual_result")
	if actual == "" {
		return nil, fmt.Errorf("actual_result is required")
	}
	severity := getStringArg(args, "severity")
	if severity == "" {
		severity = "major"
	}

	id, err := t.client.CreateDefect(ctx, qase.Defect{
		Title:        title,
		ActualResult: actual,
		Severity:     severity,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"defect_id": id}, nil
}

// ValidateCredentialsTool checks the configured Qase token and project.
type ValidateCredentialsTool struct {
	client *qase.Client
}

func (t *ValidateCredentialsTool) Name() string { return "validate-credentials" }
func (t *ValidateCredentialsTool) Description() string {
	return `Verify the configured Qase API token against the project.

WHEN TO USE:
- At session start before relying on report-defect
- After rotating the API token

Returns: {valid: true} or an error describing the failure
(unauthorized, project not found, network).`
}
func (t *ValidateCredentialsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ValidateCredentialsTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.client == nil {
		return nil, fmt.Errorf("qase integration not configured")
	}
	if err := t.client.ValidateCredentials(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"valid": true}, nil
}
