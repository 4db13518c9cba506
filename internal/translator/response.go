package translator

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

const rawExcerptLimit = 500

var (
	textFragmentRe = regexp.MustCompile(`(?m)^0:"((?:[^"\\]|\\.)*)"`)
	finishInfoRe   = regexp.MustCompile(`(?m)^[de]:(.*)$`)
	messageIDRe    = regexp.MustCompile(`f:\{"messageId":"(.*?)"\}`)
)

// ExtractText concatenates every text fragment of a complete upstream body
// and cleans the result. ok is false when the body held no fragments.
func ExtractText(body string) (string, bool) {
	matches := textFragmentRe.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return "", false
	}

	var b strings.Builder
	for _, m := range matches {
		b.WriteString(unquoteFragment(m[1]))
	}
	return Clean(b.String()), true
}

// unquoteFragment decodes JSON escapes, leaving \n sequences to Clean when
// the fragment is not a valid JSON string body.
func unquoteFragment(frag string) string {
	var s string
	if err := json.Unmarshal([]byte(`"`+frag+`"`), &s); err == nil {
		return s
	}
	return frag
}

// FromUpstream converts a complete upstream body into a chat completion. It
// never fails: a body without text yields a diagnostic excerpt as content.
func FromUpstream(body, model string) openai.ChatCompletionResponse {
	content, ok := ExtractText(body)
	if !ok || content == "" {
		logDiagnostics(body)
		content = "Failed to parse response. Raw response: " + excerpt(body, rawExcerptLimit) + "..."
	}

	return openai.ChatCompletionResponse{
		ID:      NewResponseID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{},
	}
}

func logDiagnostics(body string) {
	attrs := []any{"bytes", len(body)}
	if m := finishInfoRe.FindStringSubmatch(body); m != nil {
		if info := strings.TrimSpace(m[1]); gjson.Valid(info) {
			attrs = append(attrs, "finish_reason", gjson.Get(info, "finishReason").String())
		} else {
			attrs = append(attrs, "finish_info", info)
		}
	}
	if m := messageIDRe.FindStringSubmatch(body); m != nil {
		attrs = append(attrs, "message_id", m[1])
	}
	slog.Warn("upstream response held no text fragments", attrs...)
}

// excerpt cuts s to at most n bytes without splitting a UTF-8 sequence.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
