package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/apperrors"
	"github.com/yunyaopan/pcd-workflowplus/pkg/auth"
	"github.com/yunyaopan/pcd-workflowplus/pkg/editor"
	"github.com/yunyaopan/pcd-workflowplus/pkg/llm"
	"github.com/yunyaopan/pcd-workflowplus/pkg/mcp"
	"github.com/yunyaopan/pcd-workflowplus/pkg/mcp/tools"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
	"github.com/yunyaopan/pcd-workflowplus/pkg/repositories"
	"github.com/yunyaopan/pcd-workflowplus/pkg/sandbox"
	"github.com/yunyaopan/pcd-workflowplus/pkg/services"
	"github.com/yunyaopan/pcd-workflowplus/pkg/testhelpers"
)

// memoryTransformationRepo stores transformations per user in memory.
type memoryTransformationRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]models.Transformation
}

func newMemoryTransformationRepo() *memoryTransformationRepo {
	return &memoryTransformationRepo{items: make(map[uuid.UUID]models.Transformation)}
}

func (m *memoryTransformationRepo) Create(ctx context.Context, t *models.Transformation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	t.UserID = auth.GetUserIDFromContext(ctx)
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	m.items[t.ID] = *t
	return nil
}

func (m *memoryTransformationRepo) Update(ctx context.Context, t *models.Transformation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[t.ID]
	if !ok || existing.UserID != auth.GetUserIDFromContext(ctx) {
		return apperrors.ErrNotFound
	}
	t.UserID = existing.UserID
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	m.items[t.ID] = *t
	return nil
}

func (m *memoryTransformationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[id]
	if !ok || existing.UserID != auth.GetUserIDFromContext(ctx) {
		return apperrors.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memoryTransformationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transformation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[id]
	if !ok || existing.UserID != auth.GetUserIDFromContext(ctx) {
		return nil, apperrors.ErrNotFound
	}
	return &existing, nil
}

func (m *memoryTransformationRepo) ListByUser(ctx context.Context) ([]*models.Transformation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Transformation{}
	for _, t := range m.items {
		if t.UserID == auth.GetUserIDFromContext(ctx) {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// apiTestServer wires every API handler and the MCP endpoint against in-memory storage and a mock
// code generator.
type apiTestServer struct {
	t      *testing.T
	server *httptest.Server
	client *http.Client
	mock   *llm.MockCodeGenerator
	repo   *memoryTransformationRepo
}

func newAPITestServer(t *testing.T) *apiTestServer {
	t.Helper()
	logger := zap.NewNop()

	validator, err := auth.NewJWKSClient(context.Background(), &auth.JWKSConfig{EnableVerification: false})
	if err != nil {
		t.Fatalf("NewJWKSClient failed: %v", err)
	}
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(validator, logger), logger)
	passthrough := OwnerMiddleware(func(next http.HandlerFunc) http.HandlerFunc { return next })

	mock := llm.NewMockCodeGenerator(ordersCode)
	repo := newMemoryTransformationRepo()
	executor := sandbox.NewExecutor(sandbox.Config{Timeout: 2 * time.Second, LLMTimeout: 2 * time.Second}, logger)
	tester := services.NewTransformationTester(executor, mock, logger)
	transformations := services.NewTransformationService(repo, logger)
	generator := services.NewLogicGenerator(mock, logger)
	sessions := services.NewSessionService(
		repositories.NewMemorySessionStore(time.Hour),
		transformations,
		generator,
		tester,
		editor.New(nil),
		logger,
	)
	cookies := auth.NewSessionCookies("test_session", "test-secret", time.Hour, auth.CookieSettings{})

	mux := http.NewServeMux()
	NewTransformationsHandler(transformations, logger).RegisterRoutes(mux, authMiddleware, passthrough)
	NewLogicHandler(generator, tester, mock.DefaultModel(), logger).RegisterRoutes(mux, authMiddleware)
	NewSessionsHandler(sessions, cookies, logger).RegisterRoutes(mux, authMiddleware, passthrough)

	mcpServer := mcp.NewServer("test", "test-version", logger)
	tools.RegisterHealthTool(mcpServer.MCP(), "test-version", mock.DefaultModel())
	tools.RegisterTransformationTools(mcpServer.MCP(), &tools.TransformationToolDeps{
		Generator:       generator,
		Tester:          tester,
		Transformations: transformations,
		Logger:          logger,
	})
	NewMCPHandler(mcpServer, logger).RegisterRoutes(mux, authMiddleware, passthrough)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := server.Client()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New failed: %v", err)
	}
	client.Jar = jar

	return &apiTestServer{
		t:      t,
		server: server,
		client: client,
		mock:   mock,
		repo:   repo,
	}
}

// do sends an authenticated request as user and decodes a JSON response into out.
func (s *apiTestServer) do(method, path, user string, body any, out any) *http.Response {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		s.t.Fatalf("failed to build request: %v", err)
	}
	if user != "" {
		req.Header.Set("Authorization", testhelpers.GenerateTestJWTWithBearer(user, user+"@example.com"))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			s.t.Fatalf("failed to decode response (status %d): %v", resp.StatusCode, err)
		}
	}
	return resp
}

func ordersSnapshot() models.Snapshot {
	return models.Snapshot{
		InputTables: []models.InputTable{{
			ID:   "t1",
			Name: "Orders",
			Columns: []models.Column{
				{ID: "c1", Name: "item", Type: models.DataTypeText},
				{ID: "c2", Name: "qty", Type: models.DataTypeNumber},
			},
			Rows: []models.Row{{"id": "r1", "c1": "Pen", "c2": "3"}},
		}},
		InputParams: []models.InputParam{
			{ID: "p1", Name: "multiplier", Type: models.DataTypeNumber, Value: "2"},
		},
		OutputTable: models.OutputTable{
			Name: "Totals",
			Columns: []models.Column{
				{ID: "o1", Name: "item", Type: models.DataTypeText},
				{ID: "o2", Name: "total", Type: models.DataTypeNumber},
			},
			Rows: []models.Row{{"id": "x1", "o1": "Pen", "o2": "6"}},
		},
	}
}

const ordersCode = `
function transformData({ inputTables, params }) {
  return inputTables.Orders.map(r => ({ item: r.item, total: r.qty * params.multiplier }));
}`
