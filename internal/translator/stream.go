package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

// DoneLine terminates every SSE stream.
const DoneLine = "data: [DONE]\n\n"

const defaultFinishReason = "stop"

// ErrStreamFinished is returned when bytes arrive after the terminal chunk.
var ErrStreamFinished = errors.New("stream already finished")

type flusher interface {
	Flush()
}

// StreamTranslator converts the upstream's line-oriented record stream into
// chat.completion.chunk SSE events. Records are processed only once their
// terminating newline has arrived; a partial trailing line stays buffered
// until the next Write. It is not safe for concurrent use.
type StreamTranslator struct {
	w     io.Writer
	id    string
	model string
	now   func() time.Time

	pending      []byte
	text         strings.Builder
	finishReason string
	finished     bool
}

// NewStreamTranslator writes events for model to w. When w can flush it is
// flushed after every event.
func NewStreamTranslator(w io.Writer, model string) *StreamTranslator {
	return &StreamTranslator{
		w:     w,
		id:    NewResponseID(),
		model: model,
		now:   time.Now,
	}
}

// ID is the response id shared by every chunk of the stream.
func (s *StreamTranslator) ID() string {
	return s.id
}

// Text is everything emitted as content so far.
func (s *StreamTranslator) Text() string {
	return s.text.String()
}

// Write feeds raw upstream bytes and emits a chunk for every complete text record.
func (s *StreamTranslator) Write(p []byte) (int, error) {
	if s.finished {
		return 0, ErrStreamFinished
	}
	s.pending = append(s.pending, p...)

	start := 0
	for {
		i := bytes.IndexByte(s.pending[start:], '\n')
		if i < 0 {
			break
		}
		line := string(s.pending[start : start+i])
		start += i + 1
		if err := s.processLine(line); err != nil {
			s.pending = append(s.pending[:0], s.pending[start:]...)
			return len(p), err
		}
	}
	s.pending = append(s.pending[:0], s.pending[start:]...)
	return len(p), nil
}

func (s *StreamTranslator) processLine(line string) error {
	line = strings.TrimSpace(line)
	if len(line) < 2 || line[1] != ':' {
		return nil
	}
	payload := line[2:]

	switch line[0] {
	case 'f':
		slog.Debug("upstream stream message", "message_id", gjson.Get(payload, "messageId").String())
	case '0':
		text, ok := decodeTextRecord(payload)
		if !ok {
			slog.Debug("unparsable text record", "line", line)
		}
		if text == "" {
			return nil
		}
		s.text.WriteString(text)
		return s.emit(text, "")
	case 'd', 'e':
		s.finishReason = finishReasonOf(payload)
	}
	return nil
}

// Finish processes any unterminated trailing record, then emits the terminal
// chunk and the [DONE] sentinel. Calls after the first are no-ops.
func (s *StreamTranslator) Finish() error {
	if s.finished {
		return nil
	}
	if rest := string(s.pending); strings.TrimSpace(rest) != "" {
		s.pending = s.pending[:0]
		if err := s.processLine(rest); err != nil {
			return err
		}
	}
	s.finished = true

	reason := s.finishReason
	if reason == "" {
		reason = defaultFinishReason
	}
	if err := s.emit("", reason); err != nil {
		return err
	}
	if _, err := io.WriteString(s.w, DoneLine); err != nil {
		return fmt.Errorf("write stream sentinel: %w", err)
	}
	s.flush()

	slog.Debug("stream completed", "id", s.id, "chars", s.text.Len(), "finish_reason", reason)
	return nil
}

// Fail reports message as a content chunk and terminates the stream; SSE has
// no error frame, so this keeps the framing intact for clients.
func (s *StreamTranslator) Fail(message string) error {
	if s.finished {
		return ErrStreamFinished
	}
	if err := s.emit(message, ""); err != nil {
		return err
	}
	return s.Finish()
}

// Pipe copies r into the translator with reads of up to bufSize bytes until
// EOF, then finishes the stream. A read failure is reported in-band unless
// ctx is already done, in which case the client is gone and nothing is written.
func (s *StreamTranslator) Pipe(ctx context.Context, r io.Reader, bufSize int) error {
	if bufSize <= 0 {
		bufSize = 1024
	}
	buf := make([]byte, bufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := s.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return s.Finish()
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("upstream stream interrupted", "id", s.id, "err", err)
			return s.Fail(fmt.Sprintf("Error during streaming: %v", err))
		}
	}
}

func (s *StreamTranslator) emit(content, finishReason string) error {
	chunk := openai.ChatCompletionStreamResponse{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.now().Unix(),
		Model:   s.model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        openai.ChatCompletionStreamChoiceDelta{Content: content},
			FinishReason: openai.FinishReason(finishReason),
		}},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal stream chunk: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write stream chunk: %w", err)
	}
	s.flush()
	return nil
}

func (s *StreamTranslator) flush() {
	if f, ok := s.w.(flusher); ok {
		f.Flush()
	}
}

// decodeTextRecord reads the quoted payload of a text record. Valid JSON
// strings are fully unescaped; anything else falls back to stripping the
// quotes and expanding \n.
func decodeTextRecord(payload string) (string, bool) {
	if res := gjson.Parse(payload); res.Type == gjson.String && gjson.Valid(payload) {
		return res.String(), true
	}
	raw := strings.TrimPrefix(payload, `"`)
	raw = strings.TrimSuffix(raw, `"`)
	return strings.ReplaceAll(raw, `\n`, "\n"), false
}

func finishReasonOf(payload string) string {
	if !gjson.Valid(payload) {
		return defaultFinishReason
	}
	if reason := gjson.Get(payload, "finishReason").String(); reason != "" {
		return reason
	}
	return defaultFinishReason
}
