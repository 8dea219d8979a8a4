package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/blogdigest/internal/middleware"
	"github.com/hitoshi/blogdigest/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeInvalidRequest はリクエストボディの解析失敗を返す。
func writeInvalidRequest(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.AppError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		middleware.WriteErrorResponse(w, mapAppErrorToHTTPStatus(appErr), appErr)
		return
	}

	// AppError以外のエラーは内部サーバーエラーとして扱う
	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAppErrorToHTTPStatus はAppErrorのカテゴリからHTTPステータスコードにマッピングする。
func mapAppErrorToHTTPStatus(appErr *model.AppError) int {
	switch appErr.Category {
	case "validation":
		return http.StatusBadRequest
	case "notfound":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
