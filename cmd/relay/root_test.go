package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("relay %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestCLICommands(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("RELAY_PREFIX", "cli:")
	conn := []string{"--server", mr.Host(), "--port", mr.Port(), "--log-level", "error"}

	if out := runCLI(t, append([]string{"exec"}, append(conn, "SET", "k", "v")...)...); out != "\"OK\"\n" {
		t.Fatalf("unexpected set output %q", out)
	}
	if got, _ := mr.Get("cli:k"); got != "v" {
		t.Fatalf("expected prefix from environment, got %q", got)
	}
	if out := runCLI(t, append([]string{"exec"}, append(conn, "GET", "k")...)...); out != "\"v\"\n" {
		t.Fatalf("unexpected get output %q", out)
	}
	if out := runCLI(t, append([]string{"lock", "job"}, conn...)...); out != "acquired=true\n" {
		t.Fatalf("unexpected lock output %q", out)
	}
	if out := runCLI(t, append([]string{"lock", "job"}, conn...)...); out != "acquired=false\n" {
		t.Fatalf("unexpected second lock output %q", out)
	}
	if ttl := mr.TTL("cli:job"); ttl.Seconds() != 15 {
		t.Fatalf("expected default expiry, got %v", ttl)
	}
	if out := runCLI(t, append([]string{"unlock", "job"}, conn...)...); out != "released=1\n" {
		t.Fatalf("unexpected unlock output %q", out)
	}
}
