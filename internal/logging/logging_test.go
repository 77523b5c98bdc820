package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"", LevelInfo, false},
		{"WARN", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"fatal", LevelInfo, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseLevel(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Level: LevelWarn})

	log.Debugf("quiet")
	log.Infof("quiet")
	log.Warnf("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("expected filtered output, got %q", out)
	}
	if !strings.Contains(out, "loud") {
		t.Fatalf("expected warn line, got %q", out)
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Level: LevelInfo}).Named("flock-0")

	log.Infof("started %d lockers", 3)

	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, "stress-ng: info: [") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.HasSuffix(line, "flock-0: started 3 lockers") {
		t.Fatalf("unexpected suffix: %q", line)
	}
}

func TestLoggerJSONRecord(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Level: LevelInfo, JSON: true})
	log.now = func() time.Time { return time.Unix(100, 0).UTC() }

	log.Named("pipe-1").Errorf("bad read: %v", "EPIPE")

	var rec struct {
		Timestamp time.Time `json:"ts"`
		Level     string    `json:"level"`
		Pid       int       `json:"pid"`
		Name      string    `json:"name"`
		Message   string    `json:"msg"`
	}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Level != "error" {
		t.Fatalf("level = %q, want error", rec.Level)
	}
	if rec.Name != "pipe-1" {
		t.Fatalf("name = %q, want pipe-1", rec.Name)
	}
	if rec.Pid == 0 {
		t.Fatalf("expected pid to be recorded")
	}
	if rec.Message != "bad read: EPIPE" {
		t.Fatalf("message = %q", rec.Message)
	}
}

func TestSetLevelTakesEffect(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Level: LevelError})

	log.Infof("dropped")
	log.SetLevel(LevelDebug)
	log.Debugf("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("unexpected output %q", out)
	}
}
