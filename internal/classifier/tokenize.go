package classifier

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "how": true, "in": true,
	"into": true, "is": true, "it": true, "its": true, "new": true, "of": true,
	"on": true, "or": true, "our": true, "the": true, "this": true, "to": true,
	"we": true, "what": true, "when": true, "why": true, "with": true, "you": true,
	"your": true,
}

var folder = cases.Fold()

// normalize はアクセント記号を除去し、大文字小文字を畳み込む。
func normalize(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return folder.String(out)
}

// Tokenize はテキストを正規化済みの語に分割する。ストップワードと1文字の語は除く。
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopWords[f] {
			continue
		}
		tokens = append(tokens, stem(f))
	}
	return tokens
}

// stem は英語の複数形を単数形に寄せる簡易ステミング。
func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us") && !strings.HasSuffix(w, "is"):
		return w[:len(w)-1]
	default:
		return w
	}
}

// vector は語の出現回数ベクトル。
type vector map[string]float64

func newVector(tokens []string) vector {
	v := make(vector, len(tokens))
	for _, t := range tokens {
		v[t]++
	}
	return v
}

func (v vector) norm() float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// cosine は2つのベクトルのコサイン類似度を返す。どちらかが零ベクトルなら0。
func cosine(a, b vector) float64 {
	na, nb := a.norm(), b.norm()
	if na == 0 || nb == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for k, x := range a {
		dot += x * b[k]
	}
	return dot / (na * nb)
}
