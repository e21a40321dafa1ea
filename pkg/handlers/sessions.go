package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/apperrors"
	"github.com/yunyaopan/pcd-workflowplus/pkg/auth"
	"github.com/yunyaopan/pcd-workflowplus/pkg/editor"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
	"github.com/yunyaopan/pcd-workflowplus/pkg/services"
)

// GeneratedCodeFilename is the download name of generated code.
const GeneratedCodeFilename = "generated-logic.js"

// SessionResponse wraps an editing session.
type SessionResponse struct {
	Session *models.EditingSession `json:"session"`
	// CreatedID is the id of the entity an edit created, if any.
	CreatedID models.EntityID `json:"created_id,omitempty"`
}

// SessionsHandler exposes editing sessions over HTTP. The caller's current
// session id is remembered in a signed cookie.
type SessionsHandler struct {
	service services.SessionService
	cookies *auth.SessionCookies
	logger  *zap.Logger
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(service services.SessionService, cookies *auth.SessionCookies, logger *zap.Logger) *SessionsHandler {
	return &SessionsHandler{
		service: service,
		cookies: cookies,
		logger:  logger,
	}
}

// RegisterRoutes registers the session routes on the given mux. Save and
// load touch saved transformations and run with an owner-scoped connection.
func (h *SessionsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, ownerMiddleware OwnerMiddleware) {
	base := "/api/sessions"

	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("GET "+base+"/current", authMiddleware.RequireAuth(h.Current))
	mux.HandleFunc("GET "+base+"/{sid}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("DELETE "+base+"/{sid}", authMiddleware.RequireAuth(h.Discard))
	mux.HandleFunc("POST "+base+"/{sid}/edits", authMiddleware.RequireAuth(h.Edit))
	mux.HandleFunc("POST "+base+"/{sid}/generate", authMiddleware.RequireAuth(h.Generate))
	mux.HandleFunc("POST "+base+"/{sid}/test", authMiddleware.RequireAuth(h.Test))
	mux.HandleFunc("GET "+base+"/{sid}/code", authMiddleware.RequireAuth(h.DownloadCode))
	mux.HandleFunc("POST "+base+"/{sid}/save", authMiddleware.RequireAuth(ownerMiddleware(h.Save)))
	mux.HandleFunc("POST "+base+"/{sid}/load/{id}", authMiddleware.RequireAuth(ownerMiddleware(h.Load)))
}

func (h *SessionsHandler) writeSession(w http.ResponseWriter, status int, resp SessionResponse) {
	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *SessionsHandler) remember(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.cookies.Remember(w, r, id); err != nil {
		h.logger.Warn("Failed to remember editing session", zap.String("session_id", id), zap.Error(err))
	}
}

// Create handles POST /api/sessions
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Create(r.Context())
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to create session")
		return
	}

	h.remember(w, r, session.ID)
	h.writeSession(w, http.StatusCreated, SessionResponse{Session: session})
}

// Current handles GET /api/sessions/current. It resumes the remembered
// session or starts a new one when there is none.
func (h *SessionsHandler) Current(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.cookies.Current(r); ok {
		session, err := h.service.Get(r.Context(), id)
		if err == nil {
			h.writeSession(w, http.StatusOK, SessionResponse{Session: session})
			return
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			writeServiceError(w, err, h.logger, "Failed to resume session")
			return
		}
		h.logger.Debug("Remembered session expired", zap.String("session_id", id))
	}

	session, err := h.service.Create(r.Context())
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to create session")
		return
	}
	h.remember(w, r, session.ID)
	h.writeSession(w, http.StatusOK, SessionResponse{Session: session})
}

// Get handles GET /api/sessions/{sid}
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	session, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to get session")
		return
	}
	h.writeSession(w, http.StatusOK, SessionResponse{Session: session})
}

// Edit handles POST /api/sessions/{sid}/edits with an editor.Edit body.
func (h *SessionsHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	var edit editor.Edit
	if !decodeJSON(w, r, &edit, h.logger) {
		return
	}

	session, created, err := h.service.ApplyEdit(r.Context(), id, edit)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to apply edit")
		return
	}
	h.writeSession(w, http.StatusOK, SessionResponse{Session: session, CreatedID: created})
}

// Generate handles POST /api/sessions/{sid}/generate
func (h *SessionsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	session, err := h.service.Generate(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to generate code")
		return
	}
	h.writeSession(w, http.StatusOK, SessionResponse{Session: session})
}

// Test handles POST /api/sessions/{sid}/test
func (h *SessionsHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	session, err := h.service.Test(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to test code")
		return
	}
	h.writeSession(w, http.StatusOK, SessionResponse{Session: session})
}

// Save handles POST /api/sessions/{sid}/save with an optional
// {name, description} body.
func (h *SessionsHandler) Save(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.SaveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	session, err := h.service.Save(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to save transformation")
		return
	}
	h.writeSession(w, http.StatusOK, SessionResponse{Session: session})
}

// Load handles POST /api/sessions/{sid}/load/{id}
func (h *SessionsHandler) Load(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return
	}
	transformationID, ok := ParseTransformationID(w, r, h.logger)
	if !ok {
		return
	}

	session, err := h.service.Load(r.Context(), id, transformationID)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to load transformation")
		return
	}
	h.writeSession(w, http.StatusOK, SessionResponse{Session: session})
}

// Discard handles DELETE /api/sessions/{sid}
func (h *SessionsHandler) Discard(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.Discard(r.Context(), id); err != nil {
		writeServiceError(w, err, h.logger, "Failed to discard session")
		return
	}

	if current, ok := h.cookies.Current(r); ok && current == id {
		if err := h.cookies.Forget(w, r); err != nil {
			h.logger.Warn("Failed to forget editing session", zap.Error(err))
		}
	}

	if err := WriteJSON(w, http.StatusOK, SuccessResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// DownloadCode handles GET /api/sessions/{sid}/code
func (h *SessionsHandler) DownloadCode(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	session, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to get session")
		return
	}
	if session.GeneratedCode == "" {
		if err := ErrorResponse(w, http.StatusNotFound, "no_generated_code", "No generated code to download"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+GeneratedCodeFilename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, session.GeneratedCode); err != nil {
		h.logger.Error("Failed to write generated code", zap.Error(err))
	}
}
