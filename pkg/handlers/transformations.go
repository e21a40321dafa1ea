package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/auth"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
	"github.com/yunyaopan/pcd-workflowplus/pkg/services"
)

// OwnerMiddleware scopes the request's database work to the authenticated user.
type OwnerMiddleware func(http.HandlerFunc) http.HandlerFunc

// TransformationListResponse for GET /api/transformations
type TransformationListResponse struct {
	Transformations []*models.Transformation `json:"transformations"`
}

// TransformationResponse wraps a single transformation.
type TransformationResponse struct {
	Transformation *models.Transformation `json:"transformation"`
}

// SuccessResponse is returned by operations without a body.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// TransformationsHandler handles the saved-transformation API.
type TransformationsHandler struct {
	service services.TransformationService
	logger  *zap.Logger
}

// NewTransformationsHandler creates a new transformations handler.
func NewTransformationsHandler(service services.TransformationService, logger *zap.Logger) *TransformationsHandler {
	return &TransformationsHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the transformation routes on the given mux.
func (h *TransformationsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, ownerMiddleware OwnerMiddleware) {
	base := "/api/transformations"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(ownerMiddleware(h.List)))
	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(ownerMiddleware(h.Create)))
	mux.HandleFunc("GET "+base+"/{id}", authMiddleware.RequireAuth(ownerMiddleware(h.Get)))
	mux.HandleFunc("PUT "+base+"/{id}", authMiddleware.RequireAuth(ownerMiddleware(h.Update)))
	mux.HandleFunc("DELETE "+base+"/{id}", authMiddleware.RequireAuth(ownerMiddleware(h.Delete)))
	mux.HandleFunc("GET "+base+"/{id}/export", authMiddleware.RequireAuth(ownerMiddleware(h.Export)))
}

// List handles GET /api/transformations
func (h *TransformationsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to list transformations")
		return
	}

	if err := WriteJSON(w, http.StatusOK, TransformationListResponse{Transformations: list}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/transformations/{id}
func (h *TransformationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseTransformationID(w, r, h.logger)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to get transformation")
		return
	}

	if err := WriteJSON(w, http.StatusOK, TransformationResponse{Transformation: t}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/transformations
func (h *TransformationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateTransformationRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	t, err := h.service.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to create transformation")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, TransformationResponse{Transformation: t}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/transformations/{id}. Only fields present in the
// body change.
func (h *TransformationsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseTransformationID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.UpdateTransformationRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	t, err := h.service.Update(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to update transformation")
		return
	}

	if err := WriteJSON(w, http.StatusOK, TransformationResponse{Transformation: t}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/transformations/{id}
func (h *TransformationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseTransformationID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err, h.logger, "Failed to delete transformation")
		return
	}

	if err := WriteJSON(w, http.StatusOK, SuccessResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// exportFilename derives a download name from the transformation name.
func exportFilename(name, ext string) string {
	base := strings.Trim(unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(name), "-"), "-.")
	if base == "" {
		base = "transformation"
	}
	return base + "." + ext
}

// Export handles GET /api/transformations/{id}/export?format=yaml|json
func (h *TransformationsHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseTransformationID(w, r, h.logger)
	if !ok {
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = models.FormatYAML
	}
	var contentType string
	switch format {
	case models.FormatYAML:
		contentType = "application/yaml"
	case models.FormatJSON:
		contentType = "application/json"
	default:
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_format", "format must be yaml or json"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to export transformation")
		return
	}

	data, err := models.MarshalDocument(models.NewDocument(t), format)
	if err != nil {
		writeServiceError(w, err, h.logger, "Failed to encode transformation")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, exportFilename(t.Name, format)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("Failed to write export", zap.Error(err))
	}
}
