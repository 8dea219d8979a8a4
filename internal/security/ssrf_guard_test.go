package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestNewSafeClientTimeout はタイムアウト設定が反映されることをテストする。
func TestNewSafeClientTimeout(t *testing.T) {
	guard := NewSSRFGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout)
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("expected custom Transport")
	}
}

// TestNewSafeClientBlocksLoopback はループバックで起動したhttptestサーバーへの接続がブロックされることをテストする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"公開HTTPS", "https://aws.amazon.com/blogs/feed/", false},
		{"公開HTTP", "http://netflixtechblog.com/feed", false},
		{"空URL", "", true},
		{"不正スキーム", "ftp://example.com/feed", true},
		{"fileスキーム", "file:///etc/passwd", true},
		{"ホストなし", "https:///feed", true},
		{"プライベートIP 10/8", "http://10.0.0.1/feed", true},
		{"プライベートIP 192.168/16", "http://192.168.1.10/", true},
		{"ループバック", "http://127.0.0.1:8080/", true},
		{"メタデータIP", "http://169.254.169.254/latest/meta-data/", true},
		{"IPv6ループバック", "http://[::1]/", true},
		{"IPv4射影IPv6", "http://[::ffff:127.0.0.1]/", true},
		{"ゼロアドレス", "http://0.0.0.0/", true},
		{"localhost", "http://LOCALHOST/", true},
		{"公開IP", "https://8.8.8.8/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestWithAllowedPorts(t *testing.T) {
	g := NewSSRFGuard(WithAllowedPorts(8443))
	if len(g.allowedPorts) != 1 || g.allowedPorts[0] != 8443 {
		t.Errorf("allowedPorts = %v, want [8443]", g.allowedPorts)
	}
}
