package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeScript writes an executable shell script standing in for the
// inference CLI and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakeollama")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAvailable_Yes(t *testing.T) {
	bin := writeScript(t, `echo "ollama version 0.6.2"`)
	c := NewCLI(bin)
	if !c.Available(context.Background()) {
		t.Error("Available() = false, want true")
	}
}

func TestAvailable_EmptyOutput(t *testing.T) {
	bin := writeScript(t, `exit 0`)
	c := NewCLI(bin)
	if c.Available(context.Background()) {
		t.Error("Available() = true on empty stdout, want false")
	}
}

func TestAvailable_MissingBinary(t *testing.T) {
	c := NewCLI(filepath.Join(t.TempDir(), "does-not-exist"))
	if c.Available(context.Background()) {
		t.Error("Available() = true for missing binary, want false")
	}
}

func TestParseModelTable(t *testing.T) {
	models := parseModelTable("NAME\tID\tSIZE\tMODIFIED\nllama3\tabc123\t4.1GB\t2 days ago\n")
	if len(models) != 1 {
		t.Fatalf("got %d models, want 1", len(models))
	}

	m := models[0]
	// Strict positional mapping: the ID column lands in ModifiedAt and the
	// first word of MODIFIED in Digest.
	if m.Name != "llama3" {
		t.Errorf("Name = %q, want %q", m.Name, "llama3")
	}
	if m.ModifiedAt != "abc123" {
		t.Errorf("ModifiedAt = %q, want %q", m.ModifiedAt, "abc123")
	}
	if m.Size != "4.1GB" {
		t.Errorf("Size = %q, want %q", m.Size, "4.1GB")
	}
	if m.Digest != "2" {
		t.Errorf("Digest = %q, want %q", m.Digest, "2")
	}
}

func TestParseModelTable_HeaderAlwaysDiscarded(t *testing.T) {
	// Even a header that looks like a model row is discarded.
	models := parseModelTable("llama3 abc 1GB now\nphi3.5 def 2GB now\n")
	if len(models) != 1 {
		t.Fatalf("got %d models, want 1", len(models))
	}
	if models[0].Name != "phi3.5" {
		t.Errorf("Name = %q, want %q", models[0].Name, "phi3.5")
	}
}

func TestParseModelTable_MissingTrailingFields(t *testing.T) {
	models := parseModelTable("NAME\nllama3 abc123\n")
	if len(models) != 1 {
		t.Fatalf("got %d models, want 1", len(models))
	}
	m := models[0]
	if m.Size != "" || m.Digest != "" {
		t.Errorf("trailing fields = (%q, %q), want empty", m.Size, m.Digest)
	}
}

func TestParseModelTable_Empty(t *testing.T) {
	if models := parseModelTable(""); len(models) != 0 {
		t.Errorf("got %d models for empty output, want 0", len(models))
	}
	if models := parseModelTable("NAME\tID\tSIZE\tMODIFIED\n"); len(models) != 0 {
		t.Errorf("got %d models for header-only output, want 0", len(models))
	}
}

func TestListModels_CLI(t *testing.T) {
	bin := writeScript(t, `printf 'NAME\tID\tSIZE\tMODIFIED\nllama3\tabc123\t4.1GB\t2 days ago\n'`)
	c := NewCLI(bin)

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].Name != "llama3" {
		t.Errorf("models = %+v, want one entry named llama3", models)
	}
}

func TestRun_CapturesOutput(t *testing.T) {
	bin := writeScript(t, `echo "hello from cli"`)
	c := NewCLI(bin)

	out, err := c.Run(context.Background(), "llama3", "say hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out) != "hello from cli" {
		t.Errorf("out = %q, want %q", out, "hello from cli")
	}
}

func TestRun_Timeout(t *testing.T) {
	bin := writeScript(t, `sleep 30`)
	c := NewCLI(bin)
	c.runTimeout = 100 * time.Millisecond

	start := time.Now()
	_, err := c.Run(context.Background(), "llama3", "hang")
	if !errors.Is(err, ErrCliTimeout) {
		t.Fatalf("error = %v, want ErrCliTimeout", err)
	}
	// Run must return promptly because the subprocess was killed, not after
	// the script's sleep finishes.
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v; subprocess was not terminated", elapsed)
	}
}

func TestRun_OutputTooLarge(t *testing.T) {
	bin := writeScript(t, `head -c 65536 /dev/zero | tr '\0' 'a'`)
	c := NewCLI(bin)
	c.maxOutput = 1024

	_, err := c.Run(context.Background(), "llama3", "flood")
	if !errors.Is(err, ErrCliOutputTooLarge) {
		t.Fatalf("error = %v, want ErrCliOutputTooLarge", err)
	}
}

func TestRun_Failure(t *testing.T) {
	bin := writeScript(t, `echo "model not found" >&2; exit 1`)
	c := NewCLI(bin)

	_, err := c.Run(context.Background(), "llama3", "hi")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if ue.Message != "model not found" {
		t.Errorf("Message = %q, want stderr passed through", ue.Message)
	}
}
