// Package logger はプロセス全体で使う構造化ロガーを組み立てる。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format はログの出力形式。
type Format string

const (
	// FormatJSON は本番用の1行1JSON形式。
	FormatJSON Format = "json"
	// FormatText は手元でCLIを叩くとき向けのkey=value形式。
	FormatText Format = "text"
)

// ParseFormat はLOG_FORMATの値を解釈する。不明な値はFormatJSON。
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}

// ParseLevel はLOG_LEVELの値をslog.Levelに変換する。不明な値はInfo。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New はlevel以上をwへformat形式で書き出すロガーを返す。
func New(w io.Writer, level slog.Level, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == FormatText {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With(slog.String("service", "blogdigest"))
}

// SetupDefault はNewで作ったロガーをslogのデフォルトに設定して返す。
// wがnilならos.Stdout。
func SetupDefault(w io.Writer, level slog.Level, format Format) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	l := New(w, level, format)
	slog.SetDefault(l)
	return l
}
