// logicgen runs the logic generator from the command line: build a prompt,
// generate code, test code against a spec file, or compare models.
//
// Spec files are YAML or JSON documents as produced by the export endpoint.
// Provider settings come from the same CODEGEN_* / OPENROUTER_API_KEY /
// ANTHROPIC_API_KEY / SANDBOX_* variables the server reads.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/config"
	"github.com/yunyaopan/pcd-workflowplus/pkg/llm"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
	"github.com/yunyaopan/pcd-workflowplus/pkg/sandbox"
)

var verbose bool

// settings is the subset of server configuration the CLI needs.
type settings struct {
	CodeGen config.CodeGenConfig
	Sandbox config.SandboxConfig
}

func loadSettings() (*settings, error) {
	var s settings
	if err := cleanenv.ReadEnv(&s); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &s, nil
}

func newLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		logConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := logConfig.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newCodeGenerator(s *settings, model string, logger *zap.Logger) (llm.CodeGenerator, error) {
	if model == "" {
		model = s.CodeGen.Model
	}
	temperature := float64(s.CodeGen.Temperature)
	return llm.NewCodeGenerator(&llm.Config{
		Provider:    s.CodeGen.Provider,
		Endpoint:    s.CodeGen.Endpoint,
		APIKey:      s.CodeGen.APIKey(),
		Model:       model,
		MaxTokens:   s.CodeGen.MaxTokens,
		Temperature: &temperature,
		Referer:     s.CodeGen.Referer,
		Timeout:     s.CodeGen.Timeout,
	}, logger)
}

func newExecutor(s *settings, logger *zap.Logger) *sandbox.Executor {
	return sandbox.NewExecutor(sandbox.Config{
		Timeout:       s.Sandbox.Timeout,
		LLMTimeout:    s.Sandbox.LLMTimeout,
		MaxConcurrent: s.Sandbox.MaxConcurrent,
	}, logger)
}

// readSpec loads a transformation spec file.
func readSpec(path string) (models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("read spec: %w", err)
	}
	doc, err := models.UnmarshalDocument(data)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc.Snapshot(), nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "logicgen",
		Short:         "Generate and test transformation logic",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newPromptCmd(),
		newGenerateCmd(),
		newTestCmd(),
		newPingCmd(),
		newModelsCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rule() string {
	return strings.Repeat("-", 80)
}

func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
