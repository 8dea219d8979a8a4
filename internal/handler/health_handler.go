package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/blogdigest/internal/middleware"
)

// Pinger はヘルスチェックで疎通を確認する依存先。
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db      Pinger
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, timeout: 2 * time.Second, logger: logger}
}

// Health はデータベースへの疎通を確認して状態を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("ヘルスチェックでデータベースに接続できません", slog.String("error", err.Error()))
		middleware.WriteServiceUnavailable(w, "データベース")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
