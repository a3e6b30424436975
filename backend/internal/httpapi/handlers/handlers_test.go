package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotationServer/backend/internal/annotations"
	"annotationServer/backend/internal/collab"
)

type fakeRanges struct {
	spans map[string][]annotations.Span
}

func (f fakeRanges) ListRanges(ctx context.Context, docID, annotationID string) ([]annotations.Span, uint64, error) {
	return f.spans[docID], 9, nil
}

func newRouter(t *testing.T, ranges RangeLister) (*gin.Engine, collab.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := collab.NewInMemoryService(nil, nil, nil, nil, collab.Options{})
	r := gin.New()
	g := r.Group("/collab", func(c *gin.Context) {
		c.Set("userId", uint64(7))
		c.Set("username", "tester")
		c.Next()
	})
	New(svc, nil, ranges).Register(g)
	return r, svc
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestAnnotationLifecycleOverREST(t *testing.T) {
	r, _ := newRouter(t, nil)

	w, created := do(t, r, http.MethodPost, "/collab/documents", map[string]any{"title": "t", "paragraphs": []string{"xyz"}})
	require.Equal(t, http.StatusCreated, w.Code)
	docID := created["docId"].(string)
	base := "/collab/documents/" + docID

	w, view := do(t, r, http.MethodPost, base+"/sessions", map[string]any{"clientId": "c1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", view["clientId"])

	w, _ = do(t, r, http.MethodPut, base+"/sessions/c1/selection", map[string]any{"ranges": []map[string]int{{"from": 1, "to": 3}}})
	require.Equal(t, http.StatusOK, w.Code)

	w, res := do(t, r, http.MethodPost, base+"/sessions/c1/commands", map[string]any{"command": "addAnnotationId", "id": "a"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, res["applied"])
	assert.Equal(t, true, res["docChanged"])
	assert.Equal(t, float64(1), res["revision"])

	w, res = do(t, r, http.MethodPost, base+"/sessions/c1/commands", map[string]any{"command": "setActiveAnnotationIds", "ids": []string{"a"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, res["applied"])

	w, view = do(t, r, http.MethodGet, base+"/sessions/c1/decorations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decos := view["decorations"].([]any)
	require.Len(t, decos, 1)
	deco := decos[0].(map[string]any)
	assert.Equal(t, "annotation-selected annotation-active", deco["attrs"].(map[string]any)["class"])

	w, idx := do(t, r, http.MethodGet, base+"/annotations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{map[string]any{"id": "a", "from": float64(1), "to": float64(3)}}, idx["annotations"])

	w, idx = do(t, r, http.MethodGet, base+"/annotations?id=zzz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, idx["annotations"])

	w, doc := do(t, r, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "xyz", doc["text"])

	w, _ = do(t, r, http.MethodDelete, base+"/sessions/c1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestErrorMapping(t *testing.T) {
	r, svc := newRouter(t, nil)
	docID, err := svc.CreateDocument(context.Background(), 7, "", []string{"ab"})
	require.NoError(t, err)
	base := "/collab/documents/" + docID

	w, _ := do(t, r, http.MethodGet, base+"/sessions/ghost/decorations", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, _ = do(t, r, http.MethodPost, base+"/sessions", map[string]any{"clientId": "c1"})
	w, _ = do(t, r, http.MethodPost, base+"/sessions/c1/commands", map[string]any{"command": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ops := []map[string]any{{"kind": "retain", "count": 1}, {"kind": "insert", "text": "z"}}
	w, _ = do(t, r, http.MethodPost, base+"/ops", map[string]any{"clientId": "c9", "clientSeq": 1, "baseRevision": 0, "ops": ops})
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, r, http.MethodPost, base+"/ops", map[string]any{"clientId": "c9", "clientSeq": 2, "baseRevision": 0, "ops": ops})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(t, r, http.MethodPost, base+"/snapshot", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = do(t, r, http.MethodPost, "/collab/documents", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionOfAnotherUserIsForbidden(t *testing.T) {
	r, svc := newRouter(t, nil)
	ctx := context.Background()
	docID, err := svc.CreateDocument(ctx, 8, "", []string{"xyz"})
	require.NoError(t, err)
	_, err = svc.OpenSession(ctx, docID, 8, "owner")
	require.NoError(t, err)
	base := "/collab/documents/" + docID + "/sessions/owner"

	w, _ := do(t, r, http.MethodGet, base+"/decorations", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = do(t, r, http.MethodPut, base+"/selection", map[string]any{"ranges": []map[string]int{{"from": 1, "to": 4}}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = do(t, r, http.MethodPost, base+"/commands", map[string]any{"command": "showNewAnnotation"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = do(t, r, http.MethodPost, "/collab/documents/"+docID+"/sessions", map[string]any{"clientId": "owner"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = do(t, r, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	view, err := svc.Decorations(ctx, docID, 8, "owner")
	require.NoError(t, err)
	assert.Empty(t, view.NewAnnotationType)
	assert.Equal(t, []string{"owner"}, svc.Sessions(ctx, docID))
}

func TestAnnotationsFallBackToRangeIndex(t *testing.T) {
	ranges := fakeRanges{spans: map[string][]annotations.Span{"archived": {{ID: "old", From: 4, To: 8}}}}
	r, _ := newRouter(t, ranges)

	w, idx := do(t, r, http.MethodGet, "/collab/documents/archived/annotations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(9), idx["revision"])
	assert.Len(t, idx["annotations"], 1)

	w, _ = do(t, r, http.MethodGet, "/collab/documents/unknown/annotations", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
