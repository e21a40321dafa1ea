// Package sandbox executes generated JavaScript transformation code in an
// embedded engine with no filesystem, network or module access.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultTimeout       = 5 * time.Second
	DefaultLLMTimeout    = 2 * time.Minute
	DefaultMaxConcurrent = 4

	maxCallStackSize = 4096
	programName      = "transformation.js"
)

// CodeClient is the capability injected into programs that generate LLM columns.
type CodeClient interface {
	GenerateCode(ctx context.Context, prompt string, model string) (string, error)
}

// Program is a single execution request.
type Program struct {
	// Code must define a top-level function transformData({ inputTables, params }).
	Code string
	// InputTables and Params are passed to transformData as plain JSON values.
	InputTables any
	Params      any
	// CodeClient is exposed as openRouterClient. Nil leaves it undefined.
	CodeClient CodeClient
}

// Config bounds execution.
type Config struct {
	Timeout       time.Duration // programs without a CodeClient
	LLMTimeout    time.Duration // programs that may call the CodeClient
	MaxConcurrent int64
}

// Executor runs programs, each in a fresh runtime.
type Executor struct {
	timeout    time.Duration
	llmTimeout time.Duration
	sem        *semaphore.Weighted
	logger     *zap.Logger
}

// NewExecutor creates an executor. Zero config values fall back to defaults.
func NewExecutor(cfg Config, logger *zap.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = DefaultLLMTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Executor{
		timeout:    cfg.Timeout,
		llmTimeout: cfg.LLMTimeout,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:     logger.Named("sandbox"),
	}
}

// wrap turns the generated code into a callable async function expression so
// both plain and async transformData implementations are awaited.
func wrap(code string) string {
	return "(async function (inputTables, params, openRouterClient) {\n" +
		code +
		"\n;return await transformData({ inputTables, params });\n})"
}

type outcome struct {
	value any
	err   error
}

// Run compiles and executes p once and returns the exported value resolved by
// transformData. Failures are returned as *Error.
func (e *Executor) Run(ctx context.Context, p Program) (any, error) {
	timeout := e.timeout
	if p.CodeClient != nil {
		timeout = e.llmTimeout
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, &Error{Kind: KindTimeout, Message: fmt.Sprintf("execution cancelled while waiting for a free slot: %v", err)}
	}
	defer e.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	program, err := goja.Compile(programName, wrap(p.Code), false)
	if err != nil {
		return nil, classify(err, "")
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		done <- e.execute(ctx, vm, program, p)
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		vm.Interrupt(ctx.Err())
		out = <-done
	}

	if out.err != nil {
		msg := fmt.Sprintf("execution timed out after %s", timeout)
		if errors.Is(ctx.Err(), context.Canceled) {
			msg = "execution cancelled"
		}
		sbErr := classify(out.err, msg)
		e.logger.Debug("Program failed",
			zap.String("kind", string(sbErr.Kind)),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", sbErr.Message))
		return nil, sbErr
	}

	e.logger.Debug("Program completed", zap.Duration("elapsed", time.Since(start)))
	return out.value, nil
}

func (e *Executor) execute(ctx context.Context, vm *goja.Runtime, program *goja.Program, p Program) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("engine panic: %v", r)}
		}
	}()

	fnValue, err := vm.RunProgram(program)
	if err != nil {
		return outcome{err: err}
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return outcome{err: errors.New("wrapped program is not callable")}
	}

	inputTables, err := toNative(vm, p.InputTables)
	if err != nil {
		return outcome{err: fmt.Errorf("encode input tables: %w", err)}
	}
	params, err := toNative(vm, p.Params)
	if err != nil {
		return outcome{err: fmt.Errorf("encode params: %w", err)}
	}
	client := goja.Undefined()
	if p.CodeClient != nil {
		client = codeClientObject(ctx, vm, p.CodeClient)
	}

	ret, err := fn(goja.Undefined(), inputTables, params, client)
	if err != nil {
		return outcome{err: err}
	}

	promise, ok := ret.Export().(*goja.Promise)
	if !ok {
		return outcome{value: ret.Export()}
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return outcome{value: promise.Result().Export()}
	case goja.PromiseStateRejected:
		return outcome{err: &Error{Kind: KindRuntime, Message: jsErrorMessage(promise.Result())}}
	default:
		return outcome{err: &Error{Kind: KindRuntime, Message: "transformData did not settle: it awaited something that never completes"}}
	}
}

// toNative converts a Go value into plain JavaScript objects and arrays by
// round-tripping through JSON, so generated code sees ordinary mutable values
// with deterministic key order.
func toNative(vm *goja.Runtime, v any) (goja.Value, error) {
	if v == nil {
		return vm.NewObject(), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse unavailable")
	}
	return parse(goja.Undefined(), vm.ToValue(string(raw)))
}

// codeClientObject exposes client.generateCode(prompt, model) as a function
// returning an already settled Promise. The call itself runs on the engine's
// goroutine with the execution context.
func codeClientObject(ctx context.Context, vm *goja.Runtime, client CodeClient) goja.Value {
	obj := vm.NewObject()
	_ = obj.Set("generateCode", func(call goja.FunctionCall) goja.Value {
		prompt := call.Argument(0).String()
		model := ""
		if m := call.Argument(1); !goja.IsUndefined(m) && !goja.IsNull(m) {
			model = m.String()
		}

		promise, resolve, reject := vm.NewPromise()
		content, err := client.GenerateCode(ctx, prompt, model)
		if err != nil {
			reject(vm.NewGoError(err))
		} else {
			resolve(content)
		}
		return vm.ToValue(promise)
	})
	return obj
}

// AsError returns err as a *Error when it is one.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
