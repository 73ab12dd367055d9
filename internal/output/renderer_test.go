package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gnod-dev/gnodlogger/internal/model"
)

func TestJSONRenderer(t *testing.T) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	renderer := &JSONRenderer{enc: enc}

	e := model.Event{
		ID:         "ev-1",
		Project:    "webrtc-app",
		SessionID:  "s1",
		Sequence:   3,
		ClientTime: time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC),
		Level:      model.LevelError,
		Event:      "ICE_FAILED",
	}

	if err := renderer.Render(e); err != nil {
		t.Fatal(err)
	}

	// Parse the output JSON.
	var got model.Event
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON output: %v\nraw: %s", err, buf.String())
	}

	if got.Level != model.LevelError {
		t.Errorf("expected level error, got %s", got.Level)
	}
	if got.Event != "ICE_FAILED" {
		t.Errorf("expected event ICE_FAILED, got %q", got.Event)
	}
	if got.Sequence != 3 {
		t.Errorf("expected sequence 3, got %d", got.Sequence)
	}
}

func TestTextRendererIncludesIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	renderer := &TextRenderer{w: &buf}

	e := model.Event{
		Project:        "webrtc-app",
		SessionID:      "s1",
		Sequence:       7,
		ClientTime:     time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC),
		Level:          model.LevelWarn,
		Event:          "RECONNECT",
		SinceLastEvent: 42,
	}

	if err := renderer.Render(e); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"webrtc-app", "s1", "#0007", "RECONNECT", "+42ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}
