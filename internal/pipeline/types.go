// =============================================================================
// types.go - データ構造定義
// =============================================================================
//
// このファイルはクイズ生成パイプライン全体で使用するデータ構造を定義します。
//
// 【このファイルで定義している型】
//   - Article:   RSSフィードから取得した記事
//   - Candidate: モデルが生成した未確定の設問（正解1つ + 不正解3つ）
//   - QuizItem:  選択肢A〜Dにシャッフル済みの確定設問
//   - Quiz:      1回の生成サイクルの成果物（永続化の単位）
//
// 【ライフサイクル】
//   Article は1サイクル内でのみ存在し、永続化されない。
//   QuizItem は Shuffle で作られ、Filter を通過した後は変更されない。
//   Quiz はファイル全体の上書きで保存される。
//
// =============================================================================
package pipeline

import "time"

// -----------------------------------------------------------------------------
// Article - フィード記事
// -----------------------------------------------------------------------------
//
// Feed Fetcher が生成し、下流では読み取り専用。
type Article struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
}

// -----------------------------------------------------------------------------
// Candidate - モデル出力から復元した設問候補
// -----------------------------------------------------------------------------
//
// Correct が正解テキスト、Wrong が3つの誤答テキスト。
// シャッフル前なので選択肢ラベルはまだ持たない。
type Candidate struct {
	Question string
	Correct  string
	Wrong    [3]string
}

// Texts returns the question followed by the four answer texts.
func (c Candidate) Texts() []string {
	return []string{c.Question, c.Correct, c.Wrong[0], c.Wrong[1], c.Wrong[2]}
}

// Letters are the option labels in display order.
var Letters = [4]string{"A", "B", "C", "D"}

// -----------------------------------------------------------------------------
// QuizItem - 確定設問
// -----------------------------------------------------------------------------
//
// JSONキーは既存クライアントとの互換のため "Option A" 形式を維持する。
// Answer は正解テキストを保持している選択肢のラベル（"A"〜"D"）。
type QuizItem struct {
	Question string `json:"Question"`
	OptionA  string `json:"Option A"`
	OptionB  string `json:"Option B"`
	OptionC  string `json:"Option C"`
	OptionD  string `json:"Option D"`
	Answer   string `json:"Answer"`
	Source   string `json:"Source"`
}

// Options returns the four option texts in A..D order.
func (q QuizItem) Options() [4]string {
	return [4]string{q.OptionA, q.OptionB, q.OptionC, q.OptionD}
}

// setOptions assigns A..D from opts.
func (q *QuizItem) setOptions(opts [4]string) {
	q.OptionA, q.OptionB, q.OptionC, q.OptionD = opts[0], opts[1], opts[2], opts[3]
}

// CorrectText returns the text of the option named by Answer, or "" when
// Answer is not a valid label.
func (q QuizItem) CorrectText() string {
	idx := letterIndex(q.Answer)
	if idx < 0 {
		return ""
	}
	return q.Options()[idx]
}

func letterIndex(letter string) int {
	for i, l := range Letters {
		if l == letter {
			return i
		}
	}
	return -1
}

// -----------------------------------------------------------------------------
// Quiz - 生成サイクルの成果物
// -----------------------------------------------------------------------------
//
// 不変条件: len(Questions) <= 要求数 N
type Quiz struct {
	Date      string     `json:"date"`
	Questions []QuizItem `json:"questions"`
}

// NewQuiz stamps a quiz with the given generation time in RFC3339 UTC.
func NewQuiz(at time.Time, items []QuizItem) *Quiz {
	if items == nil {
		items = []QuizItem{}
	}
	return &Quiz{
		Date:      at.UTC().Format(time.RFC3339),
		Questions: items,
	}
}

// Day returns the YYYY-MM-DD prefix of Date, used as the archive key.
func (q *Quiz) Day() string {
	if t, err := time.Parse(time.RFC3339, q.Date); err == nil {
		return t.UTC().Format("2006-01-02")
	}
	if len(q.Date) >= 10 {
		return q.Date[:10]
	}
	return q.Date
}
