package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func sqliteEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "tickets.db"))
	t.Setenv("ATTACHMENT_BACKEND", "filesystem")
	t.Setenv("STORAGE_PATH", filepath.Join(dir, "uploads"))
	t.Setenv("ENCRYPTION_ENABLED", "true")
	t.Setenv("ENCRYPTION_KEY", "ctl-test-key")
	t.Setenv("LOG_LEVEL", "error")
}

func TestListEmptyStore(t *testing.T) {
	sqliteEnv(t)
	var out bytes.Buffer
	if err := run([]string{"list"}, &out); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.HasPrefix(out.String(), "ID") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestReencryptDryRun(t *testing.T) {
	sqliteEnv(t)
	var out bytes.Buffer
	if err := run([]string{"reencrypt", "--dry-run"}, &out); err != nil {
		t.Fatalf("reencrypt: %v", err)
	}
	if !strings.Contains(out.String(), "scanned 0") || !strings.Contains(out.String(), "[dry run]") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	sqliteEnv(t)
	var out bytes.Buffer
	if err := run([]string{"frobnicate"}, &out); err == nil {
		t.Error("expected error for unknown command")
	}
	if err := run(nil, &out); err == nil {
		t.Error("expected error without a command")
	}
	if err := run([]string{"--help"}, &out); err != nil {
		t.Errorf("help: %v", err)
	}
}
