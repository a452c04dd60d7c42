package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"benchguard.io/internal/obs"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetLogger(obs.NewJSONLogger(&buf, zapcore.InfoLevel))
	defer restore()

	ctx := WithRequestID(context.Background(), "req-123")
	LogEvent(ctx, Entry{
		ID:         "01J0000000000000000000000",
		ActorID:    "user-42",
		ActorRole:  "OWNER_ADMIN",
		Action:     "PERMISSION_GRANTED",
		Resource:   "billing",
		OccurredAt: time.Now(),
	})

	line := bytes.TrimSpace(buf.Bytes())
	if len(line) == 0 {
		t.Fatal("expected log output")
	}
	var entry map[string]any
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "PERMISSION_GRANTED" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor_id"] != "user-42" {
		t.Fatalf("unexpected actor id: %v", entry["actor_id"])
	}
}
