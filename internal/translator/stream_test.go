package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/tidwall/gjson"
)

func sseEvents(t *testing.T, out string) []string {
	t.Helper()
	if !strings.HasSuffix(out, "\n\n") {
		t.Fatalf("stream output must end with a blank line: %q", out)
	}
	return strings.Split(strings.TrimSuffix(out, "\n\n"), "\n\n")
}

func chunkContent(t *testing.T, event string) (content string, finish gjson.Result) {
	t.Helper()
	payload, ok := strings.CutPrefix(event, "data: ")
	if !ok || !gjson.Valid(payload) {
		t.Fatalf("malformed event %q", event)
	}
	choice := gjson.Get(payload, "choices.0")
	return choice.Get("delta.content").String(), choice.Get("finish_reason")
}

func TestStreamTranslatorSample(t *testing.T) {
	var out bytes.Buffer
	st := NewStreamTranslator(&out, "DeepSeek-R1")

	if _, err := st.Write([]byte("f:{\"messageId\":\"m1\"}\n0:\"Hello\"\n0:\" world\"\nd:{\"finishReason\":\"stop\"}\n")); err != nil {
		t.Fatal(err)
	}
	if err := st.Finish(); err != nil {
		t.Fatal(err)
	}

	events := sseEvents(t, out.String())
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4:\n%s", len(events), out.String())
	}

	for i, want := range []string{"Hello", " world"} {
		content, finish := chunkContent(t, events[i])
		if content != want {
			t.Errorf("chunk %d content = %q, want %q", i, content, want)
		}
		if finish.Type != gjson.Null {
			t.Errorf("chunk %d finish_reason = %s, want null", i, finish.Raw)
		}
	}

	content, finish := chunkContent(t, events[2])
	if content != "" || finish.String() != "stop" {
		t.Errorf("terminal chunk = %q / %s", content, finish.Raw)
	}
	if delta := gjson.Get(strings.TrimPrefix(events[2], "data: "), "choices.0.delta").Raw; delta != "{}" {
		t.Errorf("terminal delta = %s, want {}", delta)
	}
	if events[3] != "data: [DONE]" {
		t.Errorf("last event = %q, want [DONE]", events[3])
	}

	ids := map[string]bool{}
	for _, ev := range events[:3] {
		ids[gjson.Get(strings.TrimPrefix(ev, "data: "), "id").String()] = true
		if obj := gjson.Get(strings.TrimPrefix(ev, "data: "), "object").String(); obj != "chat.completion.chunk" {
			t.Errorf("object = %q", obj)
		}
	}
	if len(ids) != 1 || !ids[st.ID()] {
		t.Errorf("every chunk must share the stream id, got %v", ids)
	}
	if st.Text() != "Hello world" {
		t.Errorf("accumulated text = %q", st.Text())
	}
}

func TestStreamTranslatorBuffersSplitRecord(t *testing.T) {
	var out bytes.Buffer
	st := NewStreamTranslator(&out, "m")

	if _, err := st.Write([]byte(`0:"He`)); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Fatalf("partial record must not emit, got %q", out.String())
	}
	if _, err := st.Write([]byte("llo\"\n")); err != nil {
		t.Fatal(err)
	}

	events := sseEvents(t, out.String())
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if content, _ := chunkContent(t, events[0]); content != "Hello" {
		t.Fatalf("content = %q, want Hello", content)
	}
}

func TestStreamTranslatorByteByByte(t *testing.T) {
	input := "0:\"a\\nb\"\n\n9:ignored\ne:{\"finishReason\":\"length\"}\n"

	var out bytes.Buffer
	st := NewStreamTranslator(&out, "m")
	for i := 0; i < len(input); i++ {
		if _, err := st.Write([]byte{input[i]}); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.Finish(); err != nil {
		t.Fatal(err)
	}

	events := sseEvents(t, out.String())
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3:\n%s", len(events), out.String())
	}
	if content, _ := chunkContent(t, events[0]); content != "a\nb" {
		t.Errorf("content = %q, want unescaped newline", content)
	}
	if _, finish := chunkContent(t, events[1]); finish.String() != "length" {
		t.Errorf("finish_reason = %s, want length", finish.Raw)
	}
}

func TestStreamTranslatorFinishReasonDefaults(t *testing.T) {
	tests := map[string]string{
		"no metadata":     "0:\"x\"\n",
		"missing field":   "d:{\"usage\":{}}\n",
		"unparsable json": "d:not-json\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			st := NewStreamTranslator(&out, "m")
			_, _ = st.Write([]byte(input))
			if err := st.Finish(); err != nil {
				t.Fatal(err)
			}
			events := sseEvents(t, out.String())
			_, finish := chunkContent(t, events[len(events)-2])
			if finish.String() != "stop" {
				t.Fatalf("finish_reason = %s, want stop", finish.Raw)
			}
		})
	}
}

func TestStreamTranslatorTrailingRecordWithoutNewline(t *testing.T) {
	var out bytes.Buffer
	st := NewStreamTranslator(&out, "m")
	_, _ = st.Write([]byte(`0:"tail"`))
	if err := st.Finish(); err != nil {
		t.Fatal(err)
	}
	events := sseEvents(t, out.String())
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if content, _ := chunkContent(t, events[0]); content != "tail" {
		t.Fatalf("content = %q", content)
	}
}

func TestStreamTranslatorNothingAfterSentinel(t *testing.T) {
	var out bytes.Buffer
	st := NewStreamTranslator(&out, "m")
	if err := st.Finish(); err != nil {
		t.Fatal(err)
	}
	before := out.Len()

	if _, err := st.Write([]byte("0:\"late\"\n")); !errors.Is(err, ErrStreamFinished) {
		t.Fatalf("err = %v, want ErrStreamFinished", err)
	}
	if err := st.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := st.Fail("late"); !errors.Is(err, ErrStreamFinished) {
		t.Fatalf("Fail err = %v", err)
	}
	if out.Len() != before {
		t.Fatal("no bytes may follow the sentinel")
	}
}

func TestStreamTranslatorFail(t *testing.T) {
	var out bytes.Buffer
	st := NewStreamTranslator(&out, "m")
	if err := st.Fail("Error: 403 blocked"); err != nil {
		t.Fatal(err)
	}

	events := sseEvents(t, out.String())
	if len(events) != 3 {
		t.Fatalf("got %d events, want error chunk, terminal chunk, sentinel", len(events))
	}
	if content, finish := chunkContent(t, events[0]); content != "Error: 403 blocked" || finish.Type != gjson.Null {
		t.Fatalf("error chunk = %q / %s", content, finish.Raw)
	}
	if events[2] != "data: [DONE]" {
		t.Fatalf("last event = %q", events[2])
	}
}

func TestStreamTranslatorPipe(t *testing.T) {
	body := "f:{\"messageId\":\"m\"}\n0:\"Hi\"\n0:\" there\"\ne:{\"finishReason\":\"stop\"}\nd:{\"finishReason\":\"stop\"}\n"

	var out bytes.Buffer
	st := NewStreamTranslator(&out, "m")
	if err := st.Pipe(context.Background(), iotest.OneByteReader(strings.NewReader(body)), 4); err != nil {
		t.Fatal(err)
	}
	if got := len(sseEvents(t, out.String())); got != 4 {
		t.Fatalf("got %d events, want 4", got)
	}
}

func TestStreamTranslatorPipeReadError(t *testing.T) {
	r := io.MultiReader(strings.NewReader("0:\"part\"\n"), iotest.ErrReader(errors.New("connection reset")))

	var out bytes.Buffer
	st := NewStreamTranslator(&out, "m")
	if err := st.Pipe(context.Background(), r, 64); err != nil {
		t.Fatal(err)
	}

	events := sseEvents(t, out.String())
	if len(events) != 4 {
		t.Fatalf("got %d events, want content, error, terminal, sentinel", len(events))
	}
	if content, _ := chunkContent(t, events[1]); !strings.Contains(content, "connection reset") {
		t.Fatalf("error chunk = %q", content)
	}
}

func TestStreamTranslatorPipeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	st := NewStreamTranslator(&out, "m")
	err := st.Pipe(ctx, iotest.ErrReader(context.Canceled), 64)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if out.Len() != 0 {
		t.Fatal("nothing should be written for a departed client")
	}
}

func TestStreamChunkTimestamps(t *testing.T) {
	var out bytes.Buffer
	st := NewStreamTranslator(&out, "m")
	fixed := time.Unix(1700000000, 0)
	st.now = func() time.Time { return fixed }

	_, _ = st.Write([]byte("0:\"x\"\n"))
	events := sseEvents(t, out.String())

	var chunk struct {
		Created int64  `json:"created"`
		Model   string `json:"model"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(events[0], "data: ")), &chunk); err != nil {
		t.Fatal(err)
	}
	if chunk.Created != fixed.Unix() || chunk.Model != "m" {
		t.Fatalf("chunk = %+v", chunk)
	}
}
