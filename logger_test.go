package relayhttp

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSimpleLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := &SimpleLogger{logger: log.New(&buf, "", 0)}

	l.Debug("debugging", "key", "value")
	l.Info("informing")
	l.Warn("warning", "count", 3)
	l.Error("erroring")

	out := buf.String()
	for _, fragment := range []string{"DEBUG debugging", "INFO informing", "WARN warning", "ERROR erroring", "key", "value"} {
		if !strings.Contains(out, fragment) {
			t.Errorf("output %q missing %q", out, fragment)
		}
	}
}

func TestZapLoggerAdapter(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(core))

	l.Debug("request start", "method", "GET")
	l.Info("scheduling retry", "attempt", 1)
	l.Warn("request exception", "errorType", ErrorTypeTimeout)
	l.Error("request failed")

	entries := observed.All()
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].Message != "request start" {
		t.Errorf("entry 0 = %v", entries[0].Entry)
	}
	if got := entries[1].ContextMap()["attempt"]; got != int64(1) {
		t.Errorf("attempt field = %v, want 1", got)
	}
	if entries[3].Level != zapcore.ErrorLevel {
		t.Errorf("entry 3 level = %v, want error", entries[3].Level)
	}
}

func TestDefaultDebugConfig(t *testing.T) {
	cfg := DefaultDebugConfig()

	if cfg.Enabled {
		t.Error("debug should be disabled by default")
	}
	if !cfg.LogRequests || !cfg.LogRetries || !cfg.LogRateLimit || !cfg.LogCircuit {
		t.Error("all concerns should be selected so enabling debug turns everything on")
	}
}
