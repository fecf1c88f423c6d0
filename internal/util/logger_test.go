package util

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog/log"
)

func TestInitLoggerWritesFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	cfg := DefaultLogConfig()
	cfg.Directory = dir
	cfg.Role = "test"
	cfg.ConsoleOut = &console
	if err := InitLogger(cfg); err != nil {
		t.Fatalf("InitLogger: %v", err)
	}

	l := ComponentLogger("unit")
	l.Info().Msg("hello")

	if !strings.Contains(console.String(), "hello") {
		t.Fatalf("console output missing message: %q", console.String())
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "mayhem_test_*.log"))
	if len(matches) != 1 {
		t.Fatalf("log files = %v", matches)
	}
	data, _ := os.ReadFile(matches[0])
	if !strings.Contains(string(data), `"component":"unit"`) || !strings.Contains(string(data), `"app":"mayhem"`) {
		t.Fatalf("file output = %s", data)
	}
	log.Logger = log.Output(os.Stderr)
}

func TestCleanOldLogsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"a.log", "b.log", "c.log", "keep.txt"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		mt := base.Add(time.Duration(i) * time.Minute)
		os.Chtimes(path, mt, mt)
	}

	if n := cleanOldLogs(dir, 2, 0); n != 1 {
		t.Fatalf("removed %d, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.log")); !os.IsNotExist(err) {
		t.Fatal("oldest log kept")
	}
	for _, name := range []string{"b.log", "c.log", "keep.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s removed", name)
		}
	}
}
