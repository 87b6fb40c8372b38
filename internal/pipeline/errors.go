// =============================================================================
// errors.go - エラー分類
// =============================================================================
//
// 【致命的（サイクル失敗）】
//   FetchError   - フィード取得失敗 / 2xx以外のステータス
//   ParseError   - XMLとして不正、または記事要素が無い
//   TimeoutError - サイクル全体の期限切れ
//
// 【記事単位で回復（スキップ）】
//   GenerationError     - モデルAPI呼び出し失敗（呼び出し単位のタイムアウトを含む）
//   MalformedReplyError - 応答がJSONとして読めない、必須フィールド欠落
//
// フィルタによる除外はエラーではない（ポリシー判断）。
// 永続ファイルが無い状態は ErrNotReady で表す。
//
// =============================================================================
package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by the read path when no quiz has been persisted yet.
	ErrNotReady = errors.New("quiz not ready yet")

	// ErrTooFewQuestions fails a cycle that produced fewer than the configured minimum.
	ErrTooFewQuestions = errors.New("too few questions generated")
)

// FetchError reports an unreachable feed or a non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a feed document that is not well-formed or has no items.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse feed %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// GenerationError reports a failed model call for one article.
type GenerationError struct {
	Article string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate question for %q: %v", e.Article, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// MalformedReplyError reports a model reply that could not be turned into a Candidate.
type MalformedReplyError struct {
	Reply  string
	Reason string
}

func (e *MalformedReplyError) Error() string {
	return "malformed model reply: " + e.Reason
}

// TimeoutError reports an expired deadline on an external call or a whole cycle.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// asTimeout converts a deadline error into *TimeoutError and passes anything else through.
func asTimeout(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	return err
}

// IsSkippable reports whether err only affects a single article.
func IsSkippable(err error) bool {
	var ge *GenerationError
	var me *MalformedReplyError
	return errors.As(err, &ge) || errors.As(err, &me)
}
