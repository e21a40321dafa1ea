package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
	"github.com/yunyaopan/pcd-workflowplus/pkg/services"
)

const specDescription = "Transformation spec as a YAML or JSON document with input_tables, input_params and output_table"

// TransformationToolDeps contains dependencies for the transformation tools.
type TransformationToolDeps struct {
	Generator       services.LogicGenerator
	Tester          services.TransformationTester
	Transformations services.TransformationService
	Logger          *zap.Logger
}

// RegisterTransformationTools registers the code generation and saved
// transformation tools.
func RegisterTransformationTools(s *server.MCPServer, deps *TransformationToolDeps) {
	registerBuildPromptTool(s, deps)
	registerGenerateCodeTool(s, deps)
	registerTestTransformationTool(s, deps)
	registerListTransformationsTool(s, deps)
	registerGetTransformationTool(s, deps)
}

// parseSpec reads the spec argument. A nil result with a non-nil tool result
// means the argument was unusable.
func parseSpec(req mcp.CallToolRequest) (*models.Snapshot, *mcp.CallToolResult) {
	raw, err := req.RequireString("spec")
	if err != nil {
		return nil, NewErrorResult("invalid_parameters", err.Error())
	}
	doc, err := models.UnmarshalDocument([]byte(raw))
	if err != nil {
		return nil, NewErrorResult("invalid_spec", err.Error())
	}
	snapshot := doc.Snapshot()
	return &snapshot, nil
}

func registerBuildPromptTool(s *server.MCPServer, deps *TransformationToolDeps) {
	tool := mcp.NewTool(
		"build_transformation_prompt",
		mcp.WithDescription("Builds the code generation prompt for a transformation spec without calling the model"),
		mcp.WithString("spec", mcp.Required(), mcp.Description(specDescription)),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snapshot, bad := parseSpec(req)
		if bad != nil {
			return bad, nil
		}
		prompt, err := deps.Generator.BuildPrompt(*snapshot)
		if err != nil {
			return errorResult(err)
		}
		return mcp.NewToolResultText(prompt), nil
	})
}

func registerGenerateCodeTool(s *server.MCPServer, deps *TransformationToolDeps) {
	tool := mcp.NewTool(
		"generate_transformation_code",
		mcp.WithDescription("Generates the JavaScript transformData function for a transformation spec"),
		mcp.WithString("spec", mcp.Required(), mcp.Description(specDescription)),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snapshot, bad := parseSpec(req)
		if bad != nil {
			return bad, nil
		}
		code, err := deps.Generator.GenerateCode(ctx, *snapshot)
		if err != nil {
			deps.Logger.Debug("Code generation failed", zap.Error(err))
			return errorResult(err)
		}
		return mcp.NewToolResultText(code), nil
	})
}

func registerTestTransformationTool(s *server.MCPServer, deps *TransformationToolDeps) {
	tool := mcp.NewTool(
		"test_transformation",
		mcp.WithDescription("Runs transformation code against the spec's input and compares the result with its expected output rows"),
		mcp.WithString("code", mcp.Required(), mcp.Description("JavaScript source defining transformData")),
		mcp.WithString("spec", mcp.Required(), mcp.Description(specDescription)),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		code, err := req.RequireString("code")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		snapshot, bad := parseSpec(req)
		if bad != nil {
			return bad, nil
		}

		result, err := deps.Tester.TestGeneratedCode(ctx, code, *snapshot)
		if err != nil {
			return errorResult(err)
		}
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal test result: %w", err)
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

type transformationSummary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func registerListTransformationsTool(s *server.MCPServer, deps *TransformationToolDeps) {
	tool := mcp.NewTool(
		"list_transformations",
		mcp.WithDescription("Lists the caller's saved transformations, most recently updated first"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := deps.Transformations.List(ctx)
		if err != nil {
			return errorResult(err)
		}

		summaries := make([]transformationSummary, 0, len(list))
		for _, t := range list {
			summaries = append(summaries, transformationSummary{
				ID:          t.ID,
				Name:        t.Name,
				Description: t.Description,
				UpdatedAt:   t.UpdatedAt,
			})
		}
		data, err := json.Marshal(map[string]any{"transformations": summaries})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transformations: %w", err)
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerGetTransformationTool(s *server.MCPServer, deps *TransformationToolDeps) {
	tool := mcp.NewTool(
		"get_transformation",
		mcp.WithDescription("Returns a saved transformation as a spec document usable by the other tools"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Transformation ID")),
		mcp.WithString("format", mcp.Description("yaml (default) or json"), mcp.Enum(models.FormatYAML, models.FormatJSON)),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawID, err := req.RequireString("id")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return NewErrorResult("invalid_parameters", fmt.Sprintf("invalid transformation id %q", rawID)), nil
		}
		format := req.GetString("format", models.FormatYAML)

		t, err := deps.Transformations.Get(ctx, id)
		if err != nil {
			return errorResult(err)
		}
		data, err := models.MarshalDocument(models.NewDocument(t), format)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}
