package handlers

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/auth"
	"github.com/yunyaopan/pcd-workflowplus/pkg/mcp"
	"github.com/yunyaopan/pcd-workflowplus/pkg/middleware"
)

// MCPHandler handles MCP protocol requests over HTTP.
type MCPHandler struct {
	httpServer *server.StreamableHTTPServer
	logger     *zap.Logger
}

// NewMCPHandler creates a new MCP handler from an MCP server.
func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		httpServer: mcpServer.NewStreamableHTTPServer(),
		logger:     logger,
	}
}

// RegisterRoutes registers the authenticated MCP endpoint at /mcp. Tools that
// read saved transformations run with an owner-scoped connection.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, ownerMiddleware OwnerMiddleware) {
	// Method check, then auth, then owner scope, then JSON-RPC logging.
	logged := middleware.MCPRequestLogger(h.logger)(h.httpServer)
	handler := authMiddleware.RequireAuth(ownerMiddleware(logged.ServeHTTP))
	mux.Handle("/mcp", h.requirePOST(handler))
}

// requirePOST returns 405 Method Not Allowed for non-POST requests.
// MCP over HTTP Streaming requires POST for JSON-RPC requests.
func (h *MCPHandler) requirePOST(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}
