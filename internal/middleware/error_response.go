package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/blogdigest/internal/model"
)

// ErrorResponseBody はエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, appErr *model.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     appErr.Code,
		Message:  appErr.Message,
		Category: appErr.Category,
		Action:   appErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、レスポンスには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.AppError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteServiceUnavailable は依存先（データベースなど）が利用できない場合のレスポンスを書き込む。
func WriteServiceUnavailable(w http.ResponseWriter, dependency string) {
	WriteErrorResponse(w, http.StatusServiceUnavailable, &model.AppError{
		Code:     "DEPENDENCY_UNAVAILABLE",
		Message:  dependency + "に接続できません。",
		Category: "system",
		Action:   "データベースの稼働状況と接続設定を確認してください。",
	})
}
