package source

import "testing"

func TestParseFeedLinks(t *testing.T) {
	body := []byte(`<!DOCTYPE html><html><head>
<title>Engineering</title>
<link rel="stylesheet" href="/style.css">
<link rel="alternate" type="application/rss+xml" title="RSS" href="/rss.xml">
<link rel="alternate" type="application/atom+xml" title="Atom" href="https://eng.example.com/atom.xml">
<link rel="alternate" type="text/html" href="/ja/">
</head><body>
<link rel="alternate" type="application/rss+xml" href="/ignored.xml">
</body></html>`)

	links := ParseFeedLinks(body, "https://eng.example.com/blog/")
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d: %+v", len(links), links)
	}
	if links[0].URL != "https://eng.example.com/rss.xml" || links[0].Atom {
		t.Errorf("links[0] = %+v", links[0])
	}
	if links[1].URL != "https://eng.example.com/atom.xml" || !links[1].Atom {
		t.Errorf("links[1] = %+v", links[1])
	}
}

func TestParseFeedLinks_MultiValueRel(t *testing.T) {
	body := []byte(`<html><head><link rel="Alternate feed" type="application/rss+xml" href="feed"></head></html>`)
	links := ParseFeedLinks(body, "https://example.com/blog/")
	if len(links) != 1 || links[0].URL != "https://example.com/blog/feed" {
		t.Errorf("unexpected links: %+v", links)
	}
}

func TestSelectFeed(t *testing.T) {
	tests := []struct {
		name  string
		links []FeedLink
		want  string
	}{
		{
			name: "同一ホストを優先",
			links: []FeedLink{
				{URL: "https://feeds.other.com/atom", Atom: true},
				{URL: "https://eng.example.com/rss"},
			},
			want: "https://eng.example.com/rss",
		},
		{
			name: "同一ホスト内ではAtomを優先",
			links: []FeedLink{
				{URL: "https://eng.example.com/rss"},
				{URL: "https://eng.example.com/atom", Atom: true},
			},
			want: "https://eng.example.com/atom",
		},
		{
			name: "同点なら先頭",
			links: []FeedLink{
				{URL: "https://eng.example.com/a"},
				{URL: "https://eng.example.com/b"},
			},
			want: "https://eng.example.com/a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectFeed(tt.links, "https://eng.example.com/")
			if !ok || got.URL != tt.want {
				t.Errorf("SelectFeed() = %v, %v; want %s", got.URL, ok, tt.want)
			}
		})
	}

	if _, ok := SelectFeed(nil, "https://eng.example.com/"); ok {
		t.Error("expected no selection for empty candidates")
	}
}
