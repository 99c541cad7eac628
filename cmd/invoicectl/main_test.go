package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"invoicedesk.app/internal/app"
)

func TestCommandTree(t *testing.T) {
	for _, path := range []string{
		"migrate up", "migrate down", "migrate seed", "migrate status",
		"settings init", "settings show",
		"sync run",
		"token issue",
	} {
		cmd, rest, err := rootCmd.Find(strings.Fields(path))
		if err != nil {
			t.Fatalf("find %q: %v", path, err)
		}
		if len(rest) != 0 || cmd.Name() != strings.Fields(path)[1] {
			t.Fatalf("%q resolved to %q (rest %v)", path, cmd.CommandPath(), rest)
		}
	}
}

func TestSettingsInitFlags(t *testing.T) {
	f := settingsInitCmd.Flags()
	for _, name := range []string{"prefix", "next-seq", "tax-rate", "legal-name", "phone", "email", "terms"} {
		if f.Lookup(name) == nil {
			t.Fatalf("missing --%s", name)
		}
	}
	if got := f.Lookup("prefix").DefValue; got != "WC" {
		t.Fatalf("prefix default = %q", got)
	}
}

func TestDataCommandsRequireDatabase(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LOG_OUTPUT", "stderr")
	t.Setenv("GOOGLE_SHEET_URL", "https://docs.google.com/spreadsheets/d/abc123/edit")

	for _, args := range [][]string{
		{"settings", "init", "--prefix", "XX"},
		{"settings", "show"},
		{"sync", "run"},
	} {
		rootCmd.SetArgs(args)
		err := rootCmd.ExecuteContext(context.Background())
		if !errors.Is(err, app.ErrNoDatabase) {
			t.Fatalf("%v: expected ErrNoDatabase, got %v", args, err)
		}
	}
}
