package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/blogdigest/internal/model"
)

// PublisherServiceInterface はパブリッシャーハンドラーが必要とするサービスインターフェース。
type PublisherServiceInterface interface {
	// List はパブリッシャー一覧を返す。pubTypeが空なら全種別。
	List(ctx context.Context, pubType, query string) ([]*model.Publisher, error)
}

// PublisherHandler はパブリッシャー検索のHTTPハンドラー。
type PublisherHandler struct {
	service PublisherServiceInterface
	logger  *slog.Logger
}

// NewPublisherHandler はPublisherHandlerを生成する。
func NewPublisherHandler(service PublisherServiceInterface, logger *slog.Logger) *PublisherHandler {
	return &PublisherHandler{service: service, logger: logger}
}

// publisherResponse はパブリッシャー情報のAPIレスポンス。
type publisherResponse struct {
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty"`
}

// ListTechTeams は購読可能なテックチーム名の一覧を返す。
// GET /api/techteams?search=
func (h *PublisherHandler) ListTechTeams(w http.ResponseWriter, r *http.Request) {
	pubs, err := h.service.List(r.Context(), string(model.PublisherTypeTechTeam), r.URL.Query().Get("search"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	names := make([]string, 0, len(pubs))
	for _, p := range pubs {
		names = append(names, p.Name)
	}
	writeJSON(w, http.StatusOK, names)
}

// ListPublishers はパブリッシャーの一覧を種別と名前で絞り込んで返す。
// GET /api/publishers?type=&search=
func (h *PublisherHandler) ListPublishers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pubs, err := h.service.List(r.Context(), q.Get("type"), q.Get("search"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := make([]publisherResponse, 0, len(pubs))
	for _, p := range pubs {
		resp = append(resp, publisherResponse{
			Name:          p.Name,
			Type:          string(p.Type),
			LastScrapedAt: p.LastScrapedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
