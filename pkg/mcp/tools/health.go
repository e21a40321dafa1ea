package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type healthResult struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Model   string `json:"model,omitempty"`
}

// RegisterHealthTool adds the health tool. Besides status and version it
// reports the model generate_transformation_code uses when none is requested.
func RegisterHealthTool(s *server.MCPServer, version, model string) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns logic generator status, version and default code generation model"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := json.Marshal(healthResult{Status: "ok", Version: version, Model: model})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
