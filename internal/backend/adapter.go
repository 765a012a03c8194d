package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/avolkoff/inferelay/internal/ollama"
)

// Mode is the resolved transport choice for the process lifetime. It is set
// exactly once during Init and is read-only afterwards, so unsynchronized
// concurrent reads are safe.
type Mode int

const (
	ModeUninitialized Mode = iota
	ModeNetworkAPI
	ModeCliFallback
	ModeUnavailable
)

func (m Mode) String() string {
	switch m {
	case ModeNetworkAPI:
		return "NetworkAPI"
	case ModeCliFallback:
		return "CliFallback"
	case ModeUnavailable:
		return "Unavailable"
	default:
		return "Uninitialized"
	}
}

// NetworkClient is the surface of the network transport the adapter uses.
// *ollama.Client implements it; tests substitute fakes.
type NetworkClient interface {
	ListModels(ctx context.Context) ([]ollama.Model, error)
	Chat(ctx context.Context, req ollama.ChatRequest) (json.RawMessage, error)
	ChatStream(ctx context.Context, req ollama.ChatRequest) (io.ReadCloser, error)
	Generate(ctx context.Context, req ollama.GenerateRequest) (json.RawMessage, error)
	GenerateStream(ctx context.Context, req ollama.GenerateRequest) (io.ReadCloser, error)
	Embeddings(ctx context.Context, body json.RawMessage) (json.RawMessage, error)
	ManageModel(ctx context.Context, op string, params json.RawMessage) (json.RawMessage, error)
}

// Response is the normalized result of a chat or generate call: either a
// single complete JSON body, or a sequence of JSON chunks relayed from the
// transport as they arrive. For streaming responses Chunks is closed at
// stream end and any terminal failure is delivered on Errs.
type Response struct {
	Body   json.RawMessage
	Chunks <-chan json.RawMessage
	Errs   <-chan error
}

// Streaming reports whether this response carries a chunk sequence.
func (r *Response) Streaming() bool {
	return r.Chunks != nil
}

// Status is the adapter's health report. It always succeeds.
type Status struct {
	Mode      string  `json:"mode"`
	Endpoint  *string `json:"endpoint"`
	CliActive bool    `json:"cli_active"`
}

// Options configures an Adapter.
type Options struct {
	// Candidates is the ordered endpoint probe list, from Candidates().
	Candidates []string

	// CLI is the fallback transport. Required.
	CLI *CLI

	// Prober tests candidates; nil means NewProber(false).
	Prober *Prober

	// OnSelect is called once with the endpoint that won the probe, before
	// Init returns. Used to persist the last-good endpoint. Optional.
	OnSelect func(endpoint string)

	// NewClient constructs the network client for a discovered URL; nil
	// means the default Ollama client.
	NewClient func(baseURL string) NetworkClient
}

// Adapter wraps whichever transport discovery selected behind one
// capability-tagged interface. Exactly one transport is active per process
// lifetime; operations the active transport cannot support are rejected
// with tagged errors rather than attempted.
type Adapter struct {
	prober     *Prober
	cli        *CLI
	candidates []string
	onSelect   func(string)
	newClient  func(string) NetworkClient

	initOnce sync.Once
	mode     Mode
	endpoint string
	client   NetworkClient
}

// New creates an uninitialized Adapter. Call Init before any operation.
func New(opts Options) *Adapter {
	a := &Adapter{
		prober:     opts.Prober,
		cli:        opts.CLI,
		candidates: opts.Candidates,
		onSelect:   opts.OnSelect,
		newClient:  opts.NewClient,
	}
	if a.prober == nil {
		a.prober = NewProber(false)
	}
	if a.newClient == nil {
		a.newClient = func(baseURL string) NetworkClient {
			return ollama.New(baseURL)
		}
	}
	return a
}

// Init resolves the backend mode: probe candidates in order, verify the
// winner with a model listing call, fall back to the CLI when probing or
// verification fails, and settle on Unavailable when both transports fail.
// Init is idempotent; repeated calls return the resolved mode without
// re-probing.
func (a *Adapter) Init(ctx context.Context) Mode {
	a.initOnce.Do(func() {
		if url, ok := a.prober.Probe(ctx, a.candidates); ok {
			client := a.newClient(url)
			_, err := client.ListModels(ctx)
			if err == nil {
				a.mode = ModeNetworkAPI
				a.endpoint = url
				a.client = client
				if a.onSelect != nil {
					a.onSelect(url)
				}
				slog.Info("backend ready", "mode", a.mode.String(), "endpoint", url)
				return
			}
			slog.Warn("endpoint failed verification, trying CLI fallback", "endpoint", url, "error", err)
		}

		if a.cli.Available(ctx) {
			a.mode = ModeCliFallback
			slog.Info("backend ready", "mode", a.mode.String())
			return
		}

		a.mode = ModeUnavailable
		slog.Warn("no inference backend available; all operations will be rejected until restart")
	})
	return a.mode
}

// Mode returns the resolved backend mode.
func (a *Adapter) Mode() Mode {
	return a.mode
}

// ListModels returns the models available on the active transport.
func (a *Adapter) ListModels(ctx context.Context) ([]ollama.Model, error) {
	switch a.mode {
	case ModeNetworkAPI:
		models, err := a.client.ListModels(ctx)
		if err != nil {
			return nil, upstreamError(err)
		}
		return models, nil
	case ModeCliFallback:
		return a.cli.ListModels(ctx)
	default:
		return nil, ErrBackendUnavailable
	}
}

// Chat performs a chat call on the active transport. Streaming is relayed
// chunk by chunk under NetworkAPI and rejected under CliFallback, where the
// CLI's single blocking output is synthesized into the same response shape
// the network transport would return.
func (a *Adapter) Chat(ctx context.Context, req ollama.ChatRequest) (*Response, error) {
	switch a.mode {
	case ModeNetworkAPI:
		if req.Stream {
			rc, err := a.client.ChatStream(ctx, req)
			if err != nil {
				return nil, upstreamError(err)
			}
			chunks, errs := relayChunks(ctx, rc)
			return &Response{Chunks: chunks, Errs: errs}, nil
		}
		body, err := a.client.Chat(ctx, req)
		if err != nil {
			return nil, upstreamError(err)
		}
		return &Response{Body: body}, nil

	case ModeCliFallback:
		if req.Stream {
			return nil, ErrStreamingUnsupported
		}
		prompt := lastMessageContent(req.Messages)
		out, err := a.cli.Run(ctx, req.Model, prompt)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(struct {
			Model   string         `json:"model"`
			Message ollama.Message `json:"message"`
			Done    bool           `json:"done"`
		}{
			Model:   req.Model,
			Message: ollama.Message{Role: "assistant", Content: out},
			Done:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("building response: %w", err)
		}
		return &Response{Body: body}, nil

	default:
		return nil, ErrBackendUnavailable
	}
}

// Generate performs a completion call on the active transport, with the
// same streaming rules as Chat.
func (a *Adapter) Generate(ctx context.Context, req ollama.GenerateRequest) (*Response, error) {
	switch a.mode {
	case ModeNetworkAPI:
		if req.Stream {
			rc, err := a.client.GenerateStream(ctx, req)
			if err != nil {
				return nil, upstreamError(err)
			}
			chunks, errs := relayChunks(ctx, rc)
			return &Response{Chunks: chunks, Errs: errs}, nil
		}
		body, err := a.client.Generate(ctx, req)
		if err != nil {
			return nil, upstreamError(err)
		}
		return &Response{Body: body}, nil

	case ModeCliFallback:
		if req.Stream {
			return nil, ErrStreamingUnsupported
		}
		out, err := a.cli.Run(ctx, req.Model, req.Prompt)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(struct {
			Model    string `json:"model"`
			Response string `json:"response"`
			Done     bool   `json:"done"`
		}{
			Model:    req.Model,
			Response: out,
			Done:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("building response: %w", err)
		}
		return &Response{Body: body}, nil

	default:
		return nil, ErrBackendUnavailable
	}
}

// ManageModel performs a model management operation (create, delete, copy,
// show, pull, push). Defined only for NetworkAPI: under any other mode it
// fails with ErrUnsupportedByMode, distinct from ErrBackendUnavailable, so
// callers can tell "no backend at all" apart from "backend present but this
// operation needs the richer transport". No process or network call is made
// when rejected.
func (a *Adapter) ManageModel(ctx context.Context, op string, params json.RawMessage) (json.RawMessage, error) {
	if a.mode != ModeNetworkAPI {
		return nil, ErrUnsupportedByMode
	}
	body, err := a.client.ManageModel(ctx, op, params)
	if err != nil {
		return nil, upstreamError(err)
	}
	return body, nil
}

// Embeddings requests embedding vectors. NetworkAPI only, like ManageModel.
func (a *Adapter) Embeddings(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	if a.mode != ModeNetworkAPI {
		return nil, ErrUnsupportedByMode
	}
	resp, err := a.client.Embeddings(ctx, body)
	if err != nil {
		return nil, upstreamError(err)
	}
	return resp, nil
}

// Status reports the resolved mode and active endpoint. It never fails and
// is safe to call before Init.
func (a *Adapter) Status() Status {
	s := Status{
		Mode:      a.mode.String(),
		CliActive: a.mode == ModeCliFallback,
	}
	if a.endpoint != "" {
		s.Endpoint = &a.endpoint
	}
	return s
}

// lastMessageContent serializes a chat request for the CLI transport, which
// accepts a single prompt: the last message's content stands in for the
// conversation.
func lastMessageContent(messages []ollama.Message) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Content
}

// upstreamError converts a transport failure into an UpstreamError, keeping
// the backend's status code and message verbatim where available. Errors
// that already carry an adapter kind pass through unchanged.
func upstreamError(err error) error {
	var se *ollama.StatusError
	if errors.As(err, &se) {
		return &UpstreamError{Status: se.StatusCode, Message: se.Message}
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Message: err.Error()}
}
