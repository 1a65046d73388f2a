package logger

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestLineHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewLineHandler(&buf, slog.LevelInfo))
	log.Info("probe result", "outcome", "hung", "detail", "diagnostic timed out")

	line := strings.TrimRight(buf.String(), "\n")
	// [ISO-8601 timestamp] LEVEL message k=v
	re := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(Z|[+-]\d{2}:\d{2})\] INFO probe result outcome=hung detail="diagnostic timed out"$`)
	if !re.MatchString(line) {
		t.Fatalf("line format mismatch: %q", line)
	}
}

func TestLineHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewLineHandler(&buf, slog.LevelInfo))
	log.Debug("noise")
	if buf.Len() != 0 {
		t.Fatalf("debug record not filtered: %q", buf.String())
	}
}

func TestLineHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewLineHandler(&buf, slog.LevelInfo)).With("target", "npu0")
	log.Warn("container stopped")
	if !strings.Contains(buf.String(), "target=npu0") {
		t.Fatalf("bound attr missing: %q", buf.String())
	}
}

func TestNewWritesToFileAndMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchdog.log")
	var mirror bytes.Buffer
	log, closer, err := New(Config{Path: path}, &mirror)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("watchdog started", "pid", 123)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines, err := Tail(path, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "watchdog started") {
		t.Fatalf("file content mismatch: %v", lines)
	}
	if !strings.Contains(mirror.String(), "watchdog started") {
		t.Fatalf("mirror missed the record: %q", mirror.String())
	}
}

func TestTailReturnsTrailingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchdog.log")
	log, closer, err := New(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 25; i++ {
		log.Info("cycle", "n", i)
	}
	_ = closer.Close()

	lines, err := Tail(path, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) != 10 {
		t.Fatalf("tail length: got %d want 10", len(lines))
	}
	if !strings.Contains(lines[9], "n=24") {
		t.Fatalf("last line mismatch: %q", lines[9])
	}
}

func TestTailMissingFile(t *testing.T) {
	lines, err := Tail(filepath.Join(t.TempDir(), "absent.log"), 5)
	if err != nil || lines != nil {
		t.Fatalf("missing file: lines=%v err=%v", lines, err)
	}
}
