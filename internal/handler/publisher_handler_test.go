package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/blogdigest/internal/middleware"
	"github.com/hitoshi/blogdigest/internal/model"
)

// --- モック定義 ---

// mockPublisherService はPublisherServiceInterfaceのモック実装。
type mockPublisherService struct {
	listFn func(ctx context.Context, pubType, query string) ([]*model.Publisher, error)
}

func (m *mockPublisherService) List(ctx context.Context, pubType, query string) ([]*model.Publisher, error) {
	if m.listFn != nil {
		return m.listFn(ctx, pubType, query)
	}
	return nil, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func TestPublisherHandler_ListTechTeams_Success(t *testing.T) {
	svc := &mockPublisherService{
		listFn: func(ctx context.Context, pubType, query string) ([]*model.Publisher, error) {
			if pubType != "techteam" {
				t.Errorf("pubType = %q, want %q", pubType, "techteam")
			}
			if query != "net" {
				t.Errorf("query = %q, want %q", query, "net")
			}
			return []*model.Publisher{
				{ID: "p1", Name: "netflix", Type: model.PublisherTypeTechTeam},
				{ID: "p2", Name: "dropnet", Type: model.PublisherTypeTechTeam},
			}, nil
		},
	}
	var buf bytes.Buffer
	h := NewPublisherHandler(svc, newTestLogger(&buf))

	req := httptest.NewRequest(http.MethodGet, "/api/techteams?search=net", nil)
	w := httptest.NewRecorder()
	h.ListTechTeams(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	var names []string
	if err := json.NewDecoder(w.Body).Decode(&names); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(names) != 2 || names[0] != "netflix" || names[1] != "dropnet" {
		t.Errorf("names = %v, want [netflix dropnet]", names)
	}
}

func TestPublisherHandler_ListTechTeams_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	h := NewPublisherHandler(&mockPublisherService{}, newTestLogger(&buf))

	req := httptest.NewRequest(http.MethodGet, "/api/techteams", nil)
	w := httptest.NewRecorder()
	h.ListTechTeams(w, req)

	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want %q", got, "[]\n")
	}
}

func TestPublisherHandler_ListPublishers_InvalidType(t *testing.T) {
	svc := &mockPublisherService{
		listFn: func(ctx context.Context, pubType, query string) ([]*model.Publisher, error) {
			return nil, model.NewInvalidPublisherTypeError(pubType)
		},
	}
	var buf bytes.Buffer
	h := NewPublisherHandler(svc, newTestLogger(&buf))

	req := httptest.NewRequest(http.MethodGet, "/api/publishers?type=corporate", nil)
	w := httptest.NewRecorder()
	h.ListPublishers(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeInvalidPublisherType {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidPublisherType)
	}
	if body.Category != "validation" {
		t.Errorf("category = %q, want %q", body.Category, "validation")
	}
}

func TestPublisherHandler_ListPublishers_IncludesCursor(t *testing.T) {
	scraped := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := &mockPublisherService{
		listFn: func(ctx context.Context, pubType, query string) ([]*model.Publisher, error) {
			if pubType != "" {
				t.Errorf("pubType = %q, want empty", pubType)
			}
			return []*model.Publisher{
				{ID: "p1", Name: "netflix", Type: model.PublisherTypeTechTeam, LastScrapedAt: &scraped},
				{ID: "p2", Name: "alice", Type: model.PublisherTypeIndividual},
			}, nil
		},
	}
	var buf bytes.Buffer
	h := NewPublisherHandler(svc, newTestLogger(&buf))

	req := httptest.NewRequest(http.MethodGet, "/api/publishers", nil)
	w := httptest.NewRecorder()
	h.ListPublishers(w, req)

	var resp []publisherResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("len = %d, want 2", len(resp))
	}
	if resp[0].LastScrapedAt == nil || !resp[0].LastScrapedAt.Equal(scraped) {
		t.Errorf("last_scraped_at = %v, want %v", resp[0].LastScrapedAt, scraped)
	}
	if resp[1].LastScrapedAt != nil {
		t.Errorf("last_scraped_at = %v, want nil", resp[1].LastScrapedAt)
	}
	if resp[1].Type != "individual" {
		t.Errorf("type = %q, want %q", resp[1].Type, "individual")
	}
}

func TestPublisherHandler_InternalErrorIsHidden(t *testing.T) {
	svc := &mockPublisherService{
		listFn: func(ctx context.Context, pubType, query string) ([]*model.Publisher, error) {
			return nil, errors.New("pq: connection refused")
		},
	}
	var buf bytes.Buffer
	h := NewPublisherHandler(svc, newTestLogger(&buf))

	req := httptest.NewRequest(http.MethodGet, "/api/techteams", nil)
	w := httptest.NewRecorder()
	h.ListTechTeams(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, w)
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", body.Code, "INTERNAL_ERROR")
	}
	if bytes.Contains([]byte(body.Message), []byte("pq:")) {
		t.Errorf("internal detail leaked into response: %q", body.Message)
	}
	if !bytes.Contains(buf.Bytes(), []byte("connection refused")) {
		t.Errorf("expected error in log, got: %s", buf.String())
	}
}
