package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_LevelFallback(t *testing.T) {
	if got := New("not-a-level").GetLevel(); got != logrus.InfoLevel {
		t.Errorf("level: got %v, want info", got)
	}
	if got := New("warn").GetLevel(); got != logrus.WarnLevel {
		t.Errorf("level: got %v, want warn", got)
	}
}

func TestLogError_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("debug", &buf)

	LogError(logger, "ledger", "RecordSale", "create revenue", map[string]string{"sale_id": "abc"}, errors.New("boom"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "boom" {
		t.Errorf("msg: got %v, want boom", entry["msg"])
	}
	if entry["module"] != "ledger" || entry["funcName"] != "RecordSale" {
		t.Errorf("unexpected fields: %v", entry)
	}
	if _, ok := entry["data"]; !ok {
		t.Error("data field missing")
	}
}
