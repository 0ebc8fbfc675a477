package main

import (
	"testing"
)

func TestParseFields(t *testing.T) {
	input, err := parseFields([]string{"url=http://example.com", "note=a=b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input["url"] != "http://example.com" {
		t.Errorf("url = %v", input["url"])
	}
	// only the first = splits
	if input["note"] != "a=b" {
		t.Errorf("note = %v", input["note"])
	}
}

func TestParseFieldsInvalid(t *testing.T) {
	for _, bad := range []string{"nodelimiter", "=value"} {
		if _, err := parseFields([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestRootCmdHasSubcommands(t *testing.T) {
	cmd := rootCmd()

	want := map[string]bool{"version": false, "submit": false, "status": false, "results": false, "catalog": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %s", name)
		}
	}
}
