// Package mail はダイジェストメールの組み立て・描画・送信を提供する。
package mail

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// インライン画像のContent-ID。HTMLテンプレートからは cid:logo / cid:header で参照する。
const (
	ContentIDLogo   = "logo"
	ContentIDHeader = "header"
)

// InlineImage はHTML本文から参照するインライン画像。
type InlineImage struct {
	ContentID   string
	Filename    string
	ContentType string
	Data        []byte
}

// Message は1通の送信メール。
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	Inline   []InlineImage
}

// LoadInlineImage はpathの画像を読み込む。
// pathが空またはファイルが存在しない場合はnilを返し、画像なしで送信できるようにする。
func LoadInlineImage(contentID, path string) (*InlineImage, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("画像の読み込みに失敗しました: %s: %w", path, err)
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &InlineImage{
		ContentID:   contentID,
		Filename:    filepath.Base(path),
		ContentType: ct,
		Data:        data,
	}, nil
}

// BuildMessage はRFC 5322形式のメッセージを組み立てる。
// 本文は multipart/related の中に multipart/alternative（テキスト + HTML）を置き、
// インライン画像を related の兄弟パートとして添付する。
func BuildMessage(from string, msg Message, date time.Time) ([]byte, error) {
	var body bytes.Buffer
	related := multipart.NewWriter(&body)

	var altBody bytes.Buffer
	alt := multipart.NewWriter(&altBody)
	if err := writeTextPart(alt, "text/plain; charset=UTF-8", msg.TextBody); err != nil {
		return nil, err
	}
	if err := writeTextPart(alt, "text/html; charset=UTF-8", msg.HTMLBody); err != nil {
		return nil, err
	}
	if err := alt.Close(); err != nil {
		return nil, err
	}

	altHeader := textproto.MIMEHeader{}
	altHeader.Set("Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": alt.Boundary()}))
	w, err := related.CreatePart(altHeader)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(altBody.Bytes()); err != nil {
		return nil, err
	}

	for _, img := range msg.Inline {
		if err := writeInlineImage(related, img); err != nil {
			return nil, err
		}
	}
	if err := related.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	headers := []string{
		"From: " + sanitizeHeader(from),
		"To: " + sanitizeHeader(msg.To),
		"Subject: " + mime.QEncoding.Encode("utf-8", sanitizeHeader(msg.Subject)),
		"Date: " + date.Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: " + mime.FormatMediaType("multipart/related", map[string]string{
			"boundary": related.Boundary(),
			"type":     "multipart/alternative",
		}),
	}
	for _, h := range headers {
		out.WriteString(h)
		out.WriteString("\r\n")
	}
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func writeTextPart(w *multipart.Writer, contentType, text string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(text)); err != nil {
		return err
	}
	return qp.Close()
}

func writeInlineImage(w *multipart.Writer, img InlineImage) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", img.ContentType)
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-ID", "<"+img.ContentID+">")
	h.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": img.Filename}))
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}

	// RFC 2045: base64の1行は76文字以内
	encoded := base64.StdEncoding.EncodeToString(img.Data)
	for len(encoded) > 76 {
		if _, err := part.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = part.Write([]byte(encoded + "\r\n"))
	return err
}

// sanitizeHeader はヘッダインジェクションを防ぐため改行を除去する。
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}
