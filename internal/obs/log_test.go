package obs

import (
	"bytes"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSetLoggerCapturesJSON(t *testing.T) {
	var buf bytes.Buffer
	restore := SetLogger(NewJSONLogger(&buf, zapcore.InfoLevel))
	defer restore()

	Logger().Info("hello", zap.String("component", "test"))
	Logger().Debug("dropped")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["component"] != "test" || entry["level"] != "info" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("expected ts field")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != zapcore.DebugLevel {
		t.Fatal("expected debug")
	}
	if ParseLevel("nonsense") != zapcore.InfoLevel {
		t.Fatal("expected fallback to info")
	}
}
