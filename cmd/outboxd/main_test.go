package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/job"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--store", "memory", "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestStatsCommand(t *testing.T) {
	out, err := run(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats job.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if stats.Total != 0 {
		t.Errorf("Total = %d, want 0", stats.Total)
	}
}

func TestPurgeDeadCommand(t *testing.T) {
	out, err := run(t, "purge-dead")
	if err != nil {
		t.Fatalf("purge-dead: %v", err)
	}
	if !strings.Contains(out, "purged 0 dead jobs") {
		t.Errorf("output = %q", out)
	}
}

func TestRetryCommand_Errors(t *testing.T) {
	if _, err := run(t, "retry", "nope"); err == nil {
		t.Error("expected error for malformed job ID")
	}
	_, err := run(t, "retry", "job_01h455vb4pex5vsknk084sn02q")
	if !errors.Is(err, outbox.ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestJobsCommand_InvalidStatus(t *testing.T) {
	_, err := run(t, "jobs", "--status", "paused")
	if !errors.Is(err, outbox.ErrInvalidQuery) {
		t.Errorf("err = %v, want ErrInvalidQuery", err)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "text", false},
		{"DEBUG", "json", false},
		{"warn", "", false},
		{"loud", "text", true},
		{"info", "xml", true},
	}
	for _, tt := range tests {
		cfg := outbox.DefaultConfig()
		cfg.LogLevel, cfg.LogFormat = tt.level, tt.format
		_, err := newLogger(cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("newLogger(%q, %q) err = %v, wantErr %v", tt.level, tt.format, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, outbox.ErrInvalidConfig) {
			t.Errorf("err = %v, want ErrInvalidConfig", err)
		}
	}
}
