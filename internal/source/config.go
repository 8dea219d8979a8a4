package source

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/blogdigest/internal/model"
)

// アダプタ種別。
const (
	AdapterRSS  = "rss"
	AdapterHTML = "html"
)

// Config はソース定義ファイル（sources.yaml）の内容。
type Config struct {
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig は1パブリッシャー分のソース定義。
type SourceConfig struct {
	Name       string     `yaml:"name"`
	Type       string     `yaml:"type"`
	Adapter    string     `yaml:"adapter"`
	FeedURL    string     `yaml:"feed_url"`
	Homepage   string     `yaml:"homepage"`
	ListURL    string     `yaml:"list_url"`
	Categories []string   `yaml:"categories"`
	Selectors  *Selectors `yaml:"selectors"`
}

// PublisherType は定義された種別を返す。未指定の場合はtechteam。
func (s SourceConfig) PublisherType() model.PublisherType {
	if t, ok := model.ParsePublisherType(s.Type); ok {
		return t
	}
	return model.PublisherTypeTechTeam
}

// URLValidator はソースURLの静的検証を行うインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// LoadConfig はYAMLファイルからソース定義を読み込む。
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ソース定義ファイルの読み込みに失敗: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig はYAMLを解析し、各定義を検証する。
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ソース定義のパースに失敗: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		src.Name = model.NormalizePublisherName(src.Name)
		src.Adapter = strings.ToLower(strings.TrimSpace(src.Adapter))
		if src.Adapter == "" {
			src.Adapter = AdapterRSS
		}

		if src.Name == "" {
			return nil, fmt.Errorf("sources[%d]: nameは必須です", i)
		}
		if seen[src.Name] {
			return nil, fmt.Errorf("sources[%d]: nameが重複しています: %s", i, src.Name)
		}
		seen[src.Name] = true

		if src.Type != "" {
			if _, ok := model.ParsePublisherType(src.Type); !ok {
				return nil, fmt.Errorf("sources[%d] %s: 不正なtypeです: %s", i, src.Name, src.Type)
			}
		}

		switch src.Adapter {
		case AdapterRSS:
			if src.FeedURL == "" && src.Homepage == "" {
				return nil, fmt.Errorf("sources[%d] %s: rssにはfeed_urlかhomepageが必要です", i, src.Name)
			}
		case AdapterHTML:
			if src.ListURL == "" && src.Homepage == "" {
				return nil, fmt.Errorf("sources[%d] %s: htmlにはlist_urlかhomepageが必要です", i, src.Name)
			}
			if src.Selectors == nil || src.Selectors.Item == "" || src.Selectors.Date == "" {
				return nil, fmt.Errorf("sources[%d] %s: htmlにはselectors.itemとselectors.dateが必要です", i, src.Name)
			}
		default:
			return nil, fmt.Errorf("sources[%d] %s: 不明なadapterです: %s", i, src.Name, src.Adapter)
		}
	}
	return &cfg, nil
}

// urls は定義に含まれる全てのURLを返す。
func (s SourceConfig) urls() []string {
	var out []string
	for _, u := range []string{s.FeedURL, s.Homepage, s.ListURL} {
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

// BuildRegistry はソース定義からRegistryを構築する。
// validatorがnilでない場合、全てのURLを事前に検証する。
func BuildRegistry(cfg *Config, client *Client, validator URLValidator) (*Registry, error) {
	reg := NewRegistry()
	for _, src := range cfg.Sources {
		if validator != nil {
			for _, u := range src.urls() {
				if err := validator.ValidateURL(u); err != nil {
					return nil, fmt.Errorf("%s: URL検証に失敗: %w", src.Name, err)
				}
			}
		}

		switch src.Adapter {
		case AdapterHTML:
			listURL := src.ListURL
			if listURL == "" {
				listURL = src.Homepage
			}
			reg.Register(src.Name, NewHTMLAdapter(client, listURL, *src.Selectors))
		default:
			reg.Register(src.Name, NewRSSAdapter(client, src.FeedURL, src.Homepage, src.Categories))
		}
	}
	return reg, nil
}
