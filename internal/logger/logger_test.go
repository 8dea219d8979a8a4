package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, slog.LevelInfo, FormatJSON).Warn("publisher ingested",
		slog.String("publisher_id", "pub-456"),
		slog.Int("count", 25),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("JSONとしてパースできません: %v\nraw: %s", err, buf.String())
	}
	want := map[string]any{
		"msg":          "publisher ingested",
		"level":        "WARN",
		"service":      "blogdigest",
		"publisher_id": "pub-456",
		"count":        float64(25),
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
	if _, ok := entry["time"]; !ok {
		t.Error("time フィールドがありません")
	}
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, slog.LevelInfo, FormatText).Info("run finished", slog.String("stage", "ingest"))

	out := buf.String()
	for _, want := range []string{"level=INFO", `msg="run finished"`, "stage=ingest", "service=blogdigest"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, slog.LevelWarn, FormatJSON)

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("INFOは出力されないはず: %s", buf.String())
	}
	l.Error("kept")
	if !strings.Contains(buf.String(), `"kept"`) {
		t.Fatalf("ERRORが出力されていません: %s", buf.String())
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupDefault(&buf, slog.LevelDebug, FormatJSON)
	slog.Debug("global test")

	if !strings.Contains(buf.String(), `"msg":"global test"`) {
		t.Errorf("デフォルトロガーに出力されていません: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"text":   FormatText,
		" TEXT":  FormatText,
		"json":   FormatJSON,
		"":       FormatJSON,
		"logfmt": FormatJSON,
	} {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
}
