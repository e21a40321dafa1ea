package database

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWithOwnerContext_RequiresUser(t *testing.T) {
	called := false
	handler := WithOwnerContext(&DB{}, zap.NewNop())(func(http.ResponseWriter, *http.Request) {
		called = true
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/transformations", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Authentication required","code":"unauthorized"}`, rec.Body.String())
}

func TestOwnerScopeContext(t *testing.T) {
	_, ok := GetOwnerScope(context.Background())
	assert.False(t, ok)

	scope := &OwnerScope{UserID: "user-1"}
	got, ok := GetOwnerScope(SetOwnerScope(context.Background(), scope))
	assert.True(t, ok)
	assert.Same(t, scope, got)
}

func TestOwnerScope_CloseWithoutConn(t *testing.T) {
	(&OwnerScope{}).Close()
}

func TestWithOwner_RequiresUserID(t *testing.T) {
	_, err := (&DB{}).WithOwner(context.Background(), "")
	assert.Error(t, err)
}
