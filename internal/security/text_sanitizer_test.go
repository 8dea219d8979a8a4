package security

import (
	"reflect"
	"testing"
)

func TestCleanText(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"平文はそのまま", "Scaling Kafka at Netflix", "Scaling Kafka at Netflix"},
		{"タグを除去", "<b>Hello</b> <i>world</i>", "Hello world"},
		{"scriptは中身ごと除去", "Title<script>alert(1)</script>", "Title"},
		{"実体参照を復元", "Tom &amp; Jerry", "Tom & Jerry"},
		{"空白を正規化", "  multi \n\t line   title ", "multi line title"},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.CleanText(tt.input); got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanTags(t *testing.T) {
	s := NewTextSanitizer()

	got := s.CleanTags([]string{" Go ", "<em>AWS</em>", "go", "", "Data Science"})
	want := []string{"Go", "AWS", "Data Science"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CleanTags() = %v, want %v", got, want)
	}

	if got := s.CleanTags(nil); len(got) != 0 {
		t.Errorf("CleanTags(nil) = %v, want empty", got)
	}
}
