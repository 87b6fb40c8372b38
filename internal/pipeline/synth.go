// =============================================================================
// synth.go - 設問生成（Question Synthesizer）
// =============================================================================
//
// 1記事から4択の設問候補（Candidate）を1つ生成します。
//
// 【処理の流れ】
//   1. 記事のタイトルと説明を埋め込んだプロンプトを組み立てる
//   2. Completer（通常は OpenAI Chat Completions）に送信（呼び出し単位のタイムアウト付き）
//   3. 応答テキストから最初の釣り合った {...} ブロックを抽出
//   4. 2種類のJSON形式のどちらかとして解釈
//        {Question, CorrectAnswer, WrongAnswer1..3}
//        {Question, "Option A".."Option D", Answer}
//
// 【エラー】
//   - API失敗・タイムアウト → GenerationError
//   - JSONが読めない・フィールド欠落・重複回答 → MalformedReplyError
//   どちらも呼び出し側では「この記事をスキップ」として扱う。
//
// =============================================================================
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"news-quiz/internal/logger"
)

// Completer sends a single user-role prompt to a generative model and returns
// the text of the first completion.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// -----------------------------------------------------------------------------
// OpenAICompleter
// -----------------------------------------------------------------------------

// OpenAICompleter implements Completer with the Chat Completions API.
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAICompleter builds a client from the model settings in cfg.
// OpenAIBaseURL lets tests and compatible gateways replace api.openai.com.
func NewOpenAICompleter(cfg *Config) *OpenAICompleter {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = cfg.OpenAIBaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.CallTimeout + 5*time.Second}
	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	logger.Debug("model reply",
		"model", c.model,
		"duration", time.Since(start),
		"total_tokens", resp.Usage.TotalTokens)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// -----------------------------------------------------------------------------
// Synthesizer
// -----------------------------------------------------------------------------

// Synthesizer turns one Article into one Candidate.
type Synthesizer struct {
	completer   Completer
	callTimeout time.Duration
}

// NewSynthesizer returns a Synthesizer. A zero callTimeout leaves the call
// bounded only by the caller's context.
func NewSynthesizer(c Completer, callTimeout time.Duration) *Synthesizer {
	return &Synthesizer{completer: c, callTimeout: callTimeout}
}

// Synthesize asks the model for a question about a and parses the reply.
func (s *Synthesizer) Synthesize(ctx context.Context, a Article) (Candidate, error) {
	callCtx := ctx
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	reply, err := s.completer.Complete(callCtx, BuildPrompt(a))
	if err != nil {
		return Candidate{}, &GenerationError{Article: a.Title, Err: asTimeout("model call", err)}
	}
	return ParseReply(reply)
}

// BuildPrompt renders the instruction sent for one article.
func BuildPrompt(a Article) string {
	var b strings.Builder
	b.WriteString("You are a quiz generator.\n")
	b.WriteString("Create **one multiple-choice question** (4 options) based on the following news article:\n\n")
	fmt.Fprintf(&b, "Title: %s\n", a.Title)
	fmt.Fprintf(&b, "Description: %s\n\n", a.Description)
	b.WriteString("GUIDELINES:\n")
	b.WriteString("- Keep it safe and appropriate for general audiences.\n")
	b.WriteString("- No questions about violence, crime, sexual content, or disturbing topics.\n")
	b.WriteString("- Provide 1 correct answer + 3 wrong but plausible answers.\n")
	b.WriteString("- Reply with the JSON object only.\n\n")
	b.WriteString("Format as JSON:\n")
	b.WriteString(`{
  "Question": "string",
  "CorrectAnswer": "string",
  "WrongAnswer1": "string",
  "WrongAnswer2": "string",
  "WrongAnswer3": "string"
}`)
	b.WriteString("\n")
	return b.String()
}

// replyPayload covers both accepted reply shapes.
type replyPayload struct {
	Question      string `json:"Question"`
	CorrectAnswer string `json:"CorrectAnswer"`
	WrongAnswer1  string `json:"WrongAnswer1"`
	WrongAnswer2  string `json:"WrongAnswer2"`
	WrongAnswer3  string `json:"WrongAnswer3"`

	OptionA string `json:"Option A"`
	OptionB string `json:"Option B"`
	OptionC string `json:"Option C"`
	OptionD string `json:"Option D"`
	Answer  string `json:"Answer"`
}

// ParseReply extracts a Candidate from raw model output. Prose around the JSON
// object is ignored.
func ParseReply(reply string) (Candidate, error) {
	block, ok := extractJSON(reply)
	if !ok {
		return Candidate{}, &MalformedReplyError{Reply: reply, Reason: "no JSON object found"}
	}

	var p replyPayload
	if err := json.Unmarshal([]byte(block), &p); err != nil {
		return Candidate{}, &MalformedReplyError{Reply: reply, Reason: err.Error()}
	}

	c := Candidate{Question: strings.TrimSpace(p.Question)}
	switch {
	case p.CorrectAnswer != "":
		c.Correct = strings.TrimSpace(p.CorrectAnswer)
		c.Wrong = [3]string{
			strings.TrimSpace(p.WrongAnswer1),
			strings.TrimSpace(p.WrongAnswer2),
			strings.TrimSpace(p.WrongAnswer3),
		}
	case p.Answer != "":
		opts := [4]string{
			strings.TrimSpace(p.OptionA),
			strings.TrimSpace(p.OptionB),
			strings.TrimSpace(p.OptionC),
			strings.TrimSpace(p.OptionD),
		}
		idx := answerIndex(p.Answer, opts)
		if idx < 0 {
			return Candidate{}, &MalformedReplyError{Reply: reply, Reason: fmt.Sprintf("answer %q names no option", p.Answer)}
		}
		c.Correct = opts[idx]
		w := 0
		for i, o := range opts {
			if i != idx {
				c.Wrong[w] = o
				w++
			}
		}
	default:
		return Candidate{}, &MalformedReplyError{Reply: reply, Reason: "missing correct answer"}
	}

	if err := validateCandidate(c); err != "" {
		return Candidate{}, &MalformedReplyError{Reply: reply, Reason: err}
	}
	return c, nil
}

// answerIndex resolves "B", "b", "Option B" or the option text itself.
func answerIndex(answer string, opts [4]string) int {
	a := strings.TrimSpace(answer)
	a = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(a, "Option"), "option"))
	if idx := letterIndex(strings.ToUpper(a)); idx >= 0 {
		return idx
	}
	for i, o := range opts {
		if o != "" && strings.EqualFold(o, strings.TrimSpace(answer)) {
			return i
		}
	}
	return -1
}

// validateCandidate returns a reason string, or "" when c is usable.
func validateCandidate(c Candidate) string {
	if c.Question == "" {
		return "missing question"
	}
	answers := append([]string{c.Correct}, c.Wrong[:]...)
	for i, a := range answers {
		if a == "" {
			return fmt.Sprintf("answer %d is empty", i+1)
		}
		for _, prev := range answers[:i] {
			if strings.EqualFold(prev, a) {
				return fmt.Sprintf("duplicate answer %q", a)
			}
		}
	}
	return ""
}

// extractJSON returns the first balanced {...} block of s. Braces inside JSON
// strings are not counted.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
