// =============================================================================
// safety.go - 不適切コンテンツフィルタ
// =============================================================================
//
// 設問文と4つの選択肢を連結し、禁止キーワードが部分文字列として
// 含まれていれば除外します。
//
// 【正規化】
//   - cases.Fold による大文字小文字の同一視（Unicode対応）
//   - 英数字・アンダースコア・空白以外の文字を削除（"Murder!" → "murder"）
//
// 【既知の限界】
//   これは単純な字句フィルタであり、安全性の保証ではない。
//   - 言い換えられた不適切表現は素通りする（偽陰性）
//   - "Death Valley" や "skills"（kill を含む）のような無害な語も除外される（偽陽性）
//   どちらも仕様通りの挙動として扱う。
//
// =============================================================================
package pipeline

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// DefaultDenylist is the built-in keyword list.
var DefaultDenylist = []string{
	"sexual assault", "rape",
	"murder", "murdered", "kill", "killed", "death", "dead",
	"child abuse", "abuse", "assault", "shooting", "stabbing",
	"kidnap", "torture", "drugs", "human trafficking", "suicide",
	"harassment",
}

// Filter rejects quiz items containing any denylisted keyword.
type Filter struct {
	keywords []string // normalized, deduplicated
	raw      []string
}

// NewFilter builds a Filter. A nil list means DefaultDenylist.
func NewFilter(keywords []string) *Filter {
	if keywords == nil {
		keywords = DefaultDenylist
	}
	f := &Filter{}
	seen := map[string]bool{}
	for _, k := range keywords {
		n := normalizeForMatch(k)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		f.keywords = append(f.keywords, n)
		f.raw = append(f.raw, k)
	}
	return f
}

// Check reports whether item is acceptable. When it is not, matched lists the
// keywords found, in denylist order.
func (f *Filter) Check(item QuizItem) (ok bool, matched []string) {
	opts := item.Options()
	text := normalizeForMatch(strings.Join([]string{item.Question, opts[0], opts[1], opts[2], opts[3]}, " "))
	for i, k := range f.keywords {
		if strings.Contains(text, k) {
			matched = append(matched, f.raw[i])
		}
	}
	return len(matched) == 0, matched
}

// normalizeForMatch case-folds s and drops everything except letters, digits,
// underscores and whitespace.
func normalizeForMatch(s string) string {
	folded := cases.Fold().String(s)
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, folded)
	return normalizeWhitespace(stripped)
}
