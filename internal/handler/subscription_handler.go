package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/blogdigest/internal/model"
	"github.com/hitoshi/blogdigest/internal/subscription"
)

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// Subscribe は購読を登録する。解除済みの購読は再開する。
	Subscribe(ctx context.Context, req subscription.SubscribeRequest) (*model.Subscription, error)
	// Unsubscribe は購読を解除する。
	Unsubscribe(ctx context.Context, email, publisher, topic string) error
	// Resume は解除済みの購読を再開する。
	Resume(ctx context.Context, email, publisher, topic string) (*model.Subscription, error)
	// ListByEmail は受信者の購読をトピックごとにまとめて返す。
	ListByEmail(ctx context.Context, email string) ([]subscription.TopicGroup, error)
}

// SubscriptionHandler は購読管理のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
	logger  *slog.Logger
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, logger: logger}
}

// subscribeRequest は購読登録リクエストのボディ。
// 1回のリクエストで同じトピックの複数パブリッシャーを購読できる。
type subscribeRequest struct {
	Email           string   `json:"email"`
	Topic           string   `json:"topic"`
	Publishers      []string `json:"publishers"`
	FrequencyInDays *int     `json:"frequency_in_days,omitempty"`
}

// subscriptionKeyRequest は購読を特定するリクエストのボディ。
type subscriptionKeyRequest struct {
	Email     string `json:"email"`
	Publisher string `json:"publisher"`
	Topic     string `json:"topic"`
}

// subscriptionResponse は購読情報のAPIレスポンス。
type subscriptionResponse struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Publisher       string     `json:"publisher"`
	Topic           string     `json:"topic"`
	FrequencyInDays int        `json:"frequency_in_days"`
	Active          bool       `json:"active"`
	JoinedTime      time.Time  `json:"joined_time"`
	LastNotifiedAt  *time.Time `json:"last_notified_at,omitempty"`
}

// topicGroupResponse はトピック単位の購読一覧のAPIレスポンス。
type topicGroupResponse struct {
	Topic      string                   `json:"topic"`
	Publishers []publisherEntryResponse `json:"publishers"`
}

type publisherEntryResponse struct {
	SubscriptionID  string     `json:"subscription_id"`
	Publisher       string     `json:"publisher"`
	FrequencyInDays int        `json:"frequency_in_days"`
	Active          bool       `json:"active"`
	LastNotifiedAt  *time.Time `json:"last_notified_at,omitempty"`
}

// Subscribe は購読を登録する。
// POST /api/subscriptions
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}
	if len(req.Publishers) == 0 {
		handleServiceError(w, h.logger, model.NewInvalidPublisherNameError())
		return
	}

	// 通知間隔の省略時はデフォルト値を使う
	freq := model.DefaultFrequencyInDays
	if req.FrequencyInDays != nil {
		freq = *req.FrequencyInDays
	}

	resp := make([]subscriptionResponse, 0, len(req.Publishers))
	for _, name := range req.Publishers {
		sub, err := h.service.Subscribe(r.Context(), subscription.SubscribeRequest{
			Email:           req.Email,
			Publisher:       name,
			Topic:           req.Topic,
			FrequencyInDays: freq,
		})
		if err != nil {
			handleServiceError(w, h.logger, err)
			return
		}
		resp = append(resp, toSubscriptionResponse(sub, model.NormalizePublisherName(name)))
	}

	h.logger.Info("購読を登録しました",
		slog.String("email", model.NormalizeEmail(req.Email)),
		slog.String("topic", req.Topic),
		slog.Int("publishers", len(resp)),
	)
	writeJSON(w, http.StatusCreated, resp)
}

// ListSubscriptions は受信者の購読一覧をトピックごとに返す。
// GET /api/subscriptions?email=
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.ListByEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := make([]topicGroupResponse, 0, len(groups))
	for _, g := range groups {
		entries := make([]publisherEntryResponse, 0, len(g.Publishers))
		for _, p := range g.Publishers {
			entries = append(entries, publisherEntryResponse{
				SubscriptionID:  p.SubscriptionID,
				Publisher:       p.Publisher,
				FrequencyInDays: p.FrequencyInDays,
				Active:          p.Active,
				LastNotifiedAt:  p.LastNotifiedAt,
			})
		}
		resp = append(resp, topicGroupResponse{Topic: g.Topic.String(), Publishers: entries})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Unsubscribe は購読を解除する。
// DELETE /api/subscriptions?email=&publisher=&topic=
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := h.service.Unsubscribe(r.Context(), q.Get("email"), q.Get("publisher"), q.Get("topic")); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resume は解除済みの購読を再開する。
// POST /api/subscriptions/resume
func (h *SubscriptionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req subscriptionKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	sub, err := h.service.Resume(r.Context(), req.Email, req.Publisher, req.Topic)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub, model.NormalizePublisherName(req.Publisher)))
}

func toSubscriptionResponse(sub *model.Subscription, publisher string) subscriptionResponse {
	return subscriptionResponse{
		ID:              sub.ID,
		Email:           sub.Email,
		Publisher:       publisher,
		Topic:           sub.Topic.String(),
		FrequencyInDays: sub.FrequencyInDays,
		Active:          sub.Active,
		JoinedTime:      sub.JoinedTime,
		LastNotifiedAt:  sub.LastNotifiedAt,
	}
}
