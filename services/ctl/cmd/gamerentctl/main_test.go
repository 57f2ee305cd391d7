package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"gamerent/internal/config"
)

func TestRootCommandListsSubcommands(t *testing.T) {
	cmd := newRootCommand()
	want := map[string]bool{"migrate": false, "durations": false, "payments": false, "rentals": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func TestDurationsImportRequiresFile(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"durations", "import"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "file") {
		t.Fatalf("expected missing --file error, got %v", err)
	}
}

func TestDurationsImportMissingFile(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"durations", "import", "--file", filepath.Join(t.TempDir(), "absent.yaml")})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for a missing price table")
	}
}

func TestConnectEventsWithoutURL(t *testing.T) {
	events, err := connectEvents(config.Config{})
	if err != nil {
		t.Fatalf("connectEvents: %v", err)
	}
	if events != nil {
		t.Fatal("expected no bus when NATS_URL is unset")
	}
}

func TestConnectEventsUnreachable(t *testing.T) {
	events, err := connectEvents(config.Config{NATSURL: "nats://127.0.0.1:1"})
	if err == nil {
		events.Close()
		t.Fatal("expected error connecting to an unreachable NATS server")
	}
	if !strings.Contains(err.Error(), "connect nats") {
		t.Fatalf("unexpected error: %v", err)
	}
}
