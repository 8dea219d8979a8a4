package model

import (
	"errors"
	"fmt"
)

// パイプラインのエラー分類。各ステージは作業単位のエラーをこれらでラップし、
// 呼び出し側はerrors.Isで分類を判定する。
var (
	// ErrSourceUnavailable は取得元のネットワーク・パース失敗を表す。
	// そのパブリッシャーは今回の実行でスキップされ、状態は変更されない。
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrClassificationUncertain は分類器が確信を持てなかったことを表す。
	// トピックはGeneralにフォールバックし、致命的エラーにはならない。
	ErrClassificationUncertain = errors.New("classification uncertain")
	// ErrDuplicateKey は記事URLや購読の組の衝突を表す。既存行を返して成功扱いとする。
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrDeliveryFailure はSMTP等の送信失敗を表す。通知は配信待ちのまま残る。
	ErrDeliveryFailure = errors.New("delivery failure")
	// ErrPersistenceFailure は作業単位の途中での永続化失敗を表す。
	// その作業単位のみロールバックされる。
	ErrPersistenceFailure = errors.New("persistence failure")
)

// Stage はパイプラインのステージ名を表す。
type Stage string

const (
	StageIngest  Stage = "ingest"
	StageNotify  Stage = "notify"
	StageDeliver Stage = "deliver"
)

// UnitError は1作業単位（パブリッシャー、購読者、受信者）の失敗を表す。
// Kindはエラー分類のセンチネル、Errは原因となったエラー。
type UnitError struct {
	Stage Stage
	Unit  string
	Kind  error
	Err   error
}

// NewUnitError はUnitErrorを生成する。
func NewUnitError(stage Stage, unit string, kind, err error) *UnitError {
	return &UnitError{Stage: stage, Unit: unit, Kind: kind, Err: err}
}

// Error はerrorインターフェースを実装する。
func (e *UnitError) Error() string {
	return fmt.Sprintf("%s[%s]: %v: %v", e.Stage, e.Unit, e.Kind, e.Err)
}

// Unwrap は分類センチネルと原因エラーの両方を返す。
func (e *UnitError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// AppError は管理操作の入力エラーなど、利用者に提示するエラーを表す。
type AppError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, notfound
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidTopic         = "INVALID_TOPIC"
	ErrCodeInvalidPublisherType = "INVALID_PUBLISHER_TYPE"
	ErrCodeInvalidPublisherName = "INVALID_PUBLISHER_NAME"
	ErrCodeInvalidFrequency     = "INVALID_FREQUENCY"
	ErrCodeInvalidEmail         = "INVALID_EMAIL"
	ErrCodePublisherNotFound    = "PUBLISHER_NOT_FOUND"
	ErrCodePostNotFound         = "POST_NOT_FOUND"
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
)

// NewInvalidTopicError は無効なトピックのエラーを生成する。
func NewInvalidTopicError(topic string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidTopic,
		Message:  fmt.Sprintf("無効なトピックです: %s", topic),
		Category: "validation",
		Action:   fmt.Sprintf("トピックには %v のいずれかを指定してください。", Topics()),
	}
}

// NewInvalidPublisherTypeError は無効なパブリッシャー種別のエラーを生成する。
func NewInvalidPublisherTypeError(pubType string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidPublisherType,
		Message:  fmt.Sprintf("無効なパブリッシャー種別です: %s", pubType),
		Category: "validation",
		Action:   "種別には techteam、individual、community のいずれかを指定してください。",
	}
}

// NewInvalidPublisherNameError は空のパブリッシャー名のエラーを生成する。
func NewInvalidPublisherNameError() *AppError {
	return &AppError{
		Code:     ErrCodeInvalidPublisherName,
		Message:  "パブリッシャー名が空です。",
		Category: "validation",
		Action:   "パブリッシャー名を指定してください。",
	}
}

// NewInvalidFrequencyError は無効な通知間隔のエラーを生成する。
func NewInvalidFrequencyError(days int) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidFrequency,
		Message:  fmt.Sprintf("無効な通知間隔です: %d日", days),
		Category: "validation",
		Action:   "通知間隔には0以上の日数を指定してください。",
	}
}

// NewInvalidEmailError は無効なメールアドレスのエラーを生成する。
func NewInvalidEmailError(email string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "正しい形式のメールアドレスを指定してください。",
	}
}

// NewPublisherNotFoundError はパブリッシャー未検出エラーを生成する。
func NewPublisherNotFoundError(name string) *AppError {
	return &AppError{
		Code:     ErrCodePublisherNotFound,
		Message:  fmt.Sprintf("指定されたパブリッシャーが見つかりません: %s", name),
		Category: "notfound",
		Action:   "publisher add で登録済みか確認してください。",
	}
}

// NewPostNotFoundError は記事未検出エラーを生成する。
func NewPostNotFoundError(postID string) *AppError {
	return &AppError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", postID),
		Category: "notfound",
		Action:   "記事IDを確認してください。",
	}
}

// NewSubscriptionNotFoundError は購読未検出エラーを生成する。
func NewSubscriptionNotFoundError(email, publisher string, topic Topic) *AppError {
	return &AppError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("購読が見つかりません: %s / %s / %s", email, publisher, topic),
		Category: "notfound",
		Action:   "メールアドレス、パブリッシャー名、トピックを確認してください。",
	}
}
