package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
)

// Item はダイジェストに載せる1記事。
type Item struct {
	Title string
	URL   string
}

// Section は見出し（"<パブリッシャー>, <トピック>"）ごとの記事のまとまり。
type Section struct {
	Heading string
	Items   []Item
}

// RendererConfig はRendererの設定。
type RendererConfig struct {
	SubjectPrefix string
	Logo          *InlineImage
	Header        *InlineImage
}

// Renderer はダイジェストメールの件名と本文を生成する。
type Renderer struct {
	prefix string
	logo   *InlineImage
	header *InlineImage
	html   *htmltemplate.Template
	text   *template.Template
}

type digestView struct {
	Count     int
	Sections  []Section
	HasLogo   bool
	HasHeader bool
}

// NewRenderer はRendererの新しいインスタンスを生成する。
func NewRenderer(cfg RendererConfig) *Renderer {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "OneSearch Digest"
	}
	return &Renderer{
		prefix: prefix,
		logo:   cfg.Logo,
		header: cfg.Header,
		html:   htmltemplate.Must(htmltemplate.New("digest.html").Parse(digestHTML)),
		text:   template.Must(template.New("digest.txt").Parse(digestText)),
	}
}

// RenderDigest は1受信者分のダイジェストをMessageとして描画する。
func (r *Renderer) RenderDigest(to string, sections []Section) (Message, error) {
	count := 0
	for _, s := range sections {
		count += len(s.Items)
	}
	view := digestView{
		Count:     count,
		Sections:  sections,
		HasLogo:   r.logo != nil,
		HasHeader: r.header != nil,
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, view); err != nil {
		return Message{}, fmt.Errorf("HTML本文の描画に失敗しました: %w", err)
	}
	if err := r.text.Execute(&textBuf, view); err != nil {
		return Message{}, fmt.Errorf("テキスト本文の描画に失敗しました: %w", err)
	}

	msg := Message{
		To:       to,
		Subject:  r.subject(count),
		HTMLBody: htmlBuf.String(),
		TextBody: textBuf.String(),
	}
	if r.header != nil {
		msg.Inline = append(msg.Inline, *r.header)
	}
	if r.logo != nil {
		msg.Inline = append(msg.Inline, *r.logo)
	}
	return msg, nil
}

func (r *Renderer) subject(count int) string {
	if count == 1 {
		return fmt.Sprintf("%s: 1 new post", r.prefix)
	}
	return fmt.Sprintf("%s: %d new posts", r.prefix, count)
}

const digestHTML = `<html>
<body style="font-family: Arial, sans-serif; color: #333; margin:0; padding:0;">
{{- if .HasHeader}}
  <div style="width:100%; height:150px; overflow:hidden;">
    <img src="cid:header" alt="Header Image" style="width:100%; height:150px; object-fit:cover; display:block;">
  </div>
{{- end}}
  <div style="padding:32px; font-family:'Segoe UI', Arial, sans-serif; color:#222; background-color:#f9fbfd; border-radius:10px; border:1px solid #e6ecf2;">
    <h2 style="font-size:26px; color:#0073e6; margin:0 0 18px 0; font-weight:700;">{{.Count}} fresh {{if eq .Count 1}}read awaits{{else}}reads await{{end}}</h2>
{{- range .Sections}}
    <div style="font-size:14px; letter-spacing:1px; text-transform:uppercase; color:#555; margin:24px 0 8px 0;">{{.Heading}}</div>
    <ul style="margin:0; padding-left:20px;">
{{- range .Items}}
      <li style="font-size:17px; margin:0 0 10px 0;"><a href="{{.URL}}" style="color:#0073e6; text-decoration:none;">{{.Title}}</a></li>
{{- end}}
    </ul>
{{- end}}
  </div>
  <div style="padding:16px; border-top:1px solid #e0e0e0; background-color:#fafafa; font-size:12px; color:#555;">
{{- if .HasLogo}}
    <img src="cid:logo" alt="OneSearch logo" style="width:60px; height:auto; margin-right:10px;">
{{- end}}
    <div style="font-weight:bold; color:#222; font-size:13px;">OneSearch</div>
    <div style="color:#777;">One place for all engineering blogs</div>
  </div>
</body>
</html>
`

const digestText = `{{.Count}} new {{if eq .Count 1}}post{{else}}posts{{end}}
{{range .Sections}}
== {{.Heading}} ==
{{range .Items}}- {{.Title}}
  {{.URL}}
{{end}}{{end}}
OneSearch - One place for all engineering blogs
`
