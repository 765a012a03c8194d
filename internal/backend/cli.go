package backend

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/avolkoff/inferelay/internal/ollama"
)

const (
	cliVersionTimeout = 5 * time.Second
	cliRunTimeout     = 60 * time.Second
	cliMaxOutput      = 1 << 20 // 1 MiB
)

// CLI invokes the local inference tool directly, used as the fallback
// transport when no network backend is reachable.
type CLI struct {
	bin            string
	versionTimeout time.Duration
	runTimeout     time.Duration
	maxOutput      int64
}

// NewCLI creates a CLI transport around the given binary.
func NewCLI(bin string) *CLI {
	return &CLI{
		bin:            bin,
		versionTimeout: cliVersionTimeout,
		runTimeout:     cliRunTimeout,
		maxOutput:      cliMaxOutput,
	}
}

// Available reports whether the tool is invocable: the version command must
// exit zero with non-empty stdout within a short timeout.
func (c *CLI) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.versionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, c.bin, "--version").Output()
	return err == nil && len(bytes.TrimSpace(out)) > 0
}

// ListModels invokes the tool's list command and parses its tabular output.
func (c *CLI) ListModels(ctx context.Context) ([]ollama.Model, error) {
	ctx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.bin, "list")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrCliTimeout
		}
		return nil, &UpstreamError{Message: cliFailureMessage(err, &stderr)}
	}
	return parseModelTable(string(out)), nil
}

// parseModelTable parses tabular `list` output into model descriptors. The
// first line is a header and is always discarded regardless of content.
// Remaining non-blank lines are whitespace-split and mapped positionally
// into name, modified_at, size, digest, with absent trailing fields left
// empty. The positional mapping does not match the CLI's column headers
// (the ID column lands in modified_at and the first word of the MODIFIED
// column in digest); downstream consumers depend on this shape, so it is
// kept as-is.
func parseModelTable(out string) []ollama.Model {
	lines := strings.Split(out, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}

	var models []ollama.Model
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		var m ollama.Model
		m.Name = fields[0]
		if len(fields) > 1 {
			m.ModifiedAt = fields[1]
		}
		if len(fields) > 2 {
			m.Size = fields[2]
		}
		if len(fields) > 3 {
			m.Digest = fields[3]
		}
		models = append(models, m)
	}
	return models
}

// Run performs a single blocking invocation of the tool with the given
// prompt, capturing stdout as the complete response text. The subprocess is
// killed when the run timeout elapses, when the caller cancels, or when the
// captured output exceeds the size limit.
func (c *CLI) Run(ctx context.Context, model, prompt string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	stdout := &cappedBuffer{limit: c.maxOutput, onExceed: cancel}
	var stderr bytes.Buffer

	cmd := exec.CommandContext(runCtx, c.bin, "run", model, prompt)
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	switch {
	case stdout.truncated:
		return "", ErrCliOutputTooLarge
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return "", ErrCliTimeout
	case err != nil:
		return "", &UpstreamError{Message: cliFailureMessage(err, &stderr)}
	}
	return stdout.String(), nil
}

func cliFailureMessage(err error, stderr *bytes.Buffer) string {
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return msg
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if msg := strings.TrimSpace(string(exitErr.Stderr)); msg != "" {
			return msg
		}
	}
	return err.Error()
}

var errOutputLimit = errors.New("output limit reached")

// cappedBuffer collects subprocess output up to a byte limit. On overflow it
// stops accepting writes and fires onExceed so the subprocess gets killed
// instead of blocking on a full pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
	onExceed  context.CancelFunc
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if int64(b.buf.Len())+int64(len(p)) > b.limit {
		b.truncated = true
		if b.onExceed != nil {
			b.onExceed()
		}
		return 0, errOutputLimit
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
