package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/llm"
	"github.com/yunyaopan/pcd-workflowplus/pkg/logging"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
	"github.com/yunyaopan/pcd-workflowplus/pkg/prompts"
)

const promptLogPreview = 200

// LogicGenerator turns a transformation snapshot into generated JavaScript.
type LogicGenerator interface {
	// BuildPrompt returns the code-generation prompt without calling the model.
	BuildPrompt(snapshot models.Snapshot) (string, error)

	// GenerateCode builds the prompt and asks the configured model for code.
	// The returned code is exactly what the model produced.
	GenerateCode(ctx context.Context, snapshot models.Snapshot) (string, error)

	// TestConnection checks that the model endpoint and credential work.
	TestConnection(ctx context.Context) *llm.ConnectionResult

	// ListModels returns the models the endpoint advertises, when supported.
	ListModels(ctx context.Context) ([]string, error)
}

type logicGenerator struct {
	generator llm.CodeGenerator
	logger    *zap.Logger
}

// NewLogicGenerator creates a logic generator backed by generator.
func NewLogicGenerator(generator llm.CodeGenerator, logger *zap.Logger) LogicGenerator {
	return &logicGenerator{
		generator: generator,
		logger:    logger.Named("logic-generator"),
	}
}

var _ LogicGenerator = (*logicGenerator)(nil)

func (g *logicGenerator) BuildPrompt(snapshot models.Snapshot) (string, error) {
	return prompts.BuildTransformationPrompt(snapshot)
}

func (g *logicGenerator) GenerateCode(ctx context.Context, snapshot models.Snapshot) (string, error) {
	prompt, err := prompts.BuildTransformationPrompt(snapshot)
	if err != nil {
		return "", err
	}

	g.logger.Debug("Generating transformation code",
		zap.String("output_table", snapshot.OutputTable.Name),
		zap.Int("output_columns", len(snapshot.OutputTable.Columns)),
		zap.Bool("llm_columns", snapshot.OutputTable.HasLLMColumns()),
		zap.Int("prompt_len", len(prompt)),
		zap.String("prompt_preview", logging.TruncateString(prompt, promptLogPreview)))

	code, err := g.generator.GenerateCode(ctx, prompt, g.generator.DefaultModel())
	if err != nil {
		g.logger.Error("Code generation failed",
			zap.String("output_table", snapshot.OutputTable.Name),
			zap.String("error", logging.SanitizeError(err)))
		return "", fmt.Errorf("generate code: %w", err)
	}

	g.logger.Info("Generated transformation code",
		zap.String("output_table", snapshot.OutputTable.Name),
		zap.Int("code_len", len(code)))
	return code, nil
}

func (g *logicGenerator) TestConnection(ctx context.Context) *llm.ConnectionResult {
	result := g.generator.TestConnection(ctx)
	if !result.Success {
		g.logger.Warn("Code generation connection test failed",
			zap.String("error_type", string(result.ErrorType)),
			zap.String("message", result.Message))
	}
	return result
}

func (g *logicGenerator) ListModels(ctx context.Context) ([]string, error) {
	lister, ok := g.generator.(llm.ModelLister)
	if !ok {
		return []string{g.generator.DefaultModel()}, nil
	}
	return lister.ListModels(ctx)
}
