package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/auth"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
	"github.com/yunyaopan/pcd-workflowplus/pkg/services"
)

// GenerateCodeResponse for POST /api/logic/generate
type GenerateCodeResponse struct {
	Code string `json:"code"`
}

// PromptResponse for POST /api/logic/prompt
type PromptResponse struct {
	Prompt string `json:"prompt"`
}

// TestCodeRequest for POST /api/logic/test
type TestCodeRequest struct {
	Code     string          `json:"code"`
	Snapshot models.Snapshot `json:"snapshot"`
}

// ModelsResponse for GET /api/logic/models
type ModelsResponse struct {
	Default string   `json:"default"`
	Models  []string `json:"models"`
}

// LogicHandler exposes the stateless code generation and validation API.
type LogicHandler struct {
	generator services.LogicGenerator
	tester    services.TransformationTester
	model     string
	logger    *zap.Logger
}

// NewLogicHandler creates a new logic handler. model is reported as the
// default by the models endpoint.
func NewLogicHandler(generator services.LogicGenerator, tester services.TransformationTester, model string, logger *zap.Logger) *LogicHandler {
	return &LogicHandler{
		generator: generator,
		tester:    tester,
		model:     model,
		logger:    logger,
	}
}

// RegisterRoutes registers the logic routes on the given mux.
func (h *LogicHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/logic"

	mux.HandleFunc("POST "+base+"/generate", authMiddleware.RequireAuth(h.Generate))
	mux.HandleFunc("POST "+base+"/test", authMiddleware.RequireAuth(h.Test))
	mux.HandleFunc("POST "+base+"/prompt", authMiddleware.RequireAuth(h.Prompt))
	mux.HandleFunc("GET "+base+"/connection", authMiddleware.RequireAuth(h.Connection))
	mux.HandleFunc("GET "+base+"/models", authMiddleware.RequireAuth(h.Models))
}

// Generate handles POST /api/logic/generate with a snapshot body.
func (h *LogicHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var snapshot models.Snapshot
	if !decodeJSON(w, r, &snapshot, h.logger) {
		return
	}

	code, err := h.generator.GenerateCode(r.Context(), snapshot)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to generate code")
		return
	}

	if err := WriteJSON(w, http.StatusOK, GenerateCodeResponse{Code: code}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Prompt handles POST /api/logic/prompt. It returns the prompt Generate would send.
func (h *LogicHandler) Prompt(w http.ResponseWriter, r *http.Request) {
	var snapshot models.Snapshot
	if !decodeJSON(w, r, &snapshot, h.logger) {
		return
	}

	prompt, err := h.generator.BuildPrompt(snapshot)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to build prompt")
		return
	}

	if err := WriteJSON(w, http.StatusOK, PromptResponse{Prompt: prompt}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Test handles POST /api/logic/test. Failed tests are a 200 with
// success=false; only unmet preconditions are errors.
func (h *LogicHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req TestCodeRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	result, err := h.tester.TestGeneratedCode(r.Context(), req.Code, req.Snapshot)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to test code")
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Connection handles GET /api/logic/connection.
func (h *LogicHandler) Connection(w http.ResponseWriter, r *http.Request) {
	result := h.generator.TestConnection(r.Context())
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Models handles GET /api/logic/models.
func (h *LogicHandler) Models(w http.ResponseWriter, r *http.Request) {
	ids, err := h.generator.ListModels(r.Context())
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to list models")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ModelsResponse{Default: h.model, Models: ids}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
