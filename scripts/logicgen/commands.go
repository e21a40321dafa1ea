package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/llm"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
	"github.com/yunyaopan/pcd-workflowplus/pkg/prompts"
	"github.com/yunyaopan/pcd-workflowplus/pkg/services"
)

// errTestFailed makes the process exit non-zero without repeating the report.
var errTestFailed = errors.New("transformation test failed")

func newPromptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompt SPEC",
		Short: "Print the code generation prompt for a spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := readSpec(args[0])
			if err != nil {
				return err
			}
			prompt, err := prompts.BuildTransformationPrompt(snapshot)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prompt)
			return nil
		},
	}
}

func newGenerateCmd() *cobra.Command {
	var (
		model  string
		output string
	)
	cmd := &cobra.Command{
		Use:   "generate SPEC",
		Short: "Generate transformation code for a spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := readSpec(args[0])
			if err != nil {
				return err
			}
			s, err := loadSettings()
			if err != nil {
				return err
			}
			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			generator, err := newCodeGenerator(s, model, logger)
			if err != nil {
				return err
			}
			code, err := services.NewLogicGenerator(generator, logger).GenerateCode(cmd.Context(), snapshot)
			if err != nil {
				return userError(err)
			}

			if output == "" {
				fmt.Fprintln(cmd.OutOrStdout(), code)
				return nil
			}
			return os.WriteFile(output, []byte(code), 0o644)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model override")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write code to this file instead of stdout")
	return cmd
}

func newTestCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "test SPEC CODE_FILE",
		Short: "Run code against a spec's input and compare with its expected output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := readSpec(args[0])
			if err != nil {
				return err
			}
			code, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read code: %w", err)
			}
			s, err := loadSettings()
			if err != nil {
				return err
			}
			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			// LLM columns call the configured provider from inside the sandbox.
			generator, err := newCodeGenerator(s, "", logger)
			if err != nil {
				return err
			}
			tester := services.NewTransformationTester(newExecutor(s, logger), generator, logger)
			result, err := tester.TestGeneratedCode(cmd.Context(), string(code), snapshot)
			if err != nil {
				return err
			}
			return report(cmd, result, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func report(cmd *cobra.Command, result *models.TestResult, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		status := "PASS"
		if !result.Success {
			status = "FAIL"
		}
		fmt.Fprintf(out, "%s: %s\n", status, result.Message)
	}
	if !result.Success {
		return errTestFailed
	}
	return nil
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the code generation provider is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			generator, err := newCodeGenerator(s, "", logger)
			if err != nil {
				return err
			}
			result := generator.TestConnection(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			if !result.Success {
				return fmt.Errorf("connection failed (%s)", result.ErrorType)
			}
			return nil
		},
	}
}

// modelRun is one model's outcome in a comparison.
type modelRun struct {
	Model    string
	Result   *models.TestResult
	Err      error
	Duration string
}

func newModelsCmd() *cobra.Command {
	var (
		modelIDs []string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "models SPEC",
		Short: "Generate and test code for a spec with several models",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := readSpec(args[0])
			if err != nil {
				return err
			}
			s, err := loadSettings()
			if err != nil {
				return err
			}
			if len(modelIDs) == 0 {
				modelIDs = []string{s.CodeGen.Model}
			}
			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			out := cmd.OutOrStdout()
			executor := newExecutor(s, logger)
			var runs []modelRun
			for _, id := range modelIDs {
				fmt.Fprintf(out, "%s\nModel: %s\n%s\n", rule(), id, rule())
				run := compareModel(cmd.Context(), s, id, snapshot, executor, logger, timeout)
				runs = append(runs, run)
				if run.Err != nil {
					fmt.Fprintf(out, "Error: %v\n", run.Err)
				} else {
					fmt.Fprintf(out, "%s (%s)\n", run.Result.Message, run.Duration)
				}
			}

			fmt.Fprintf(out, "\n%s\nSUMMARY\n%s\n", rule(), rule())
			failed := 0
			for _, run := range runs {
				status := "PASS"
				if run.Err != nil || !run.Result.Success {
					status = "FAIL"
					failed++
				}
				fmt.Fprintf(out, "%s: %s\n", status, run.Model)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d models failed", failed, len(runs))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&modelIDs, "model", nil, "model to compare (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "timeout per model")
	return cmd
}

func compareModel(ctx context.Context, s *settings, model string, snapshot models.Snapshot, executor services.CodeRunner, logger *zap.Logger, timeout time.Duration) (run modelRun) {
	run.Model = model
	start := time.Now()
	defer func() { run.Duration = elapsed(start) }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	generator, err := newCodeGenerator(s, model, logger)
	if err != nil {
		run.Err = err
		return run
	}
	code, err := services.NewLogicGenerator(generator, logger).GenerateCode(ctx, snapshot)
	if err != nil {
		run.Err = userError(err)
		return run
	}
	run.Result, run.Err = services.NewTransformationTester(executor, generator, logger).TestGeneratedCode(ctx, code, snapshot)
	return run
}

// userError prefers the provider's user-facing message.
func userError(err error) error {
	var e *llm.Error
	if errors.As(err, &e) {
		return errors.New(e.UserMessage())
	}
	return err
}
