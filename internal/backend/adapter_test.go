package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/avolkoff/inferelay/internal/ollama"
)

// fakeClient is an in-memory NetworkClient.
type fakeClient struct {
	models      []ollama.Model
	listErr     error
	listCalls   int
	chatBody    json.RawMessage
	streamBody  string
	manageBody  json.RawMessage
	manageCalls int
	embedBody   json.RawMessage
}

func (f *fakeClient) ListModels(_ context.Context) ([]ollama.Model, error) {
	f.listCalls++
	return f.models, f.listErr
}

func (f *fakeClient) Chat(_ context.Context, _ ollama.ChatRequest) (json.RawMessage, error) {
	return f.chatBody, nil
}

func (f *fakeClient) ChatStream(_ context.Context, _ ollama.ChatRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.streamBody)), nil
}

func (f *fakeClient) Generate(_ context.Context, _ ollama.GenerateRequest) (json.RawMessage, error) {
	return f.chatBody, nil
}

func (f *fakeClient) GenerateStream(_ context.Context, _ ollama.GenerateRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.streamBody)), nil
}

func (f *fakeClient) Embeddings(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return f.embedBody, nil
}

func (f *fakeClient) ManageModel(_ context.Context, _ string, _ json.RawMessage) (json.RawMessage, error) {
	f.manageCalls++
	return f.manageBody, nil
}

// newNetworkAdapter builds an adapter that resolves to NetworkAPI around fc.
func newNetworkAdapter(t *testing.T, fc *fakeClient) *Adapter {
	t.Helper()
	f := &fakePing{success: "http://found:11434"}
	a := New(Options{
		Candidates: []string{"http://dead:11434", "http://found:11434"},
		CLI:        NewCLI("does-not-matter"),
		Prober:     &Prober{ping: f.ping},
		NewClient:  func(string) NetworkClient { return fc },
	})
	if mode := a.Init(context.Background()); mode != ModeNetworkAPI {
		t.Fatalf("Init = %v, want NetworkAPI", mode)
	}
	return a
}

// newCliAdapter builds an adapter that resolves to CliFallback around the
// given script body.
func newCliAdapter(t *testing.T, scriptBody string) *Adapter {
	t.Helper()
	bin := writeScript(t, scriptBody)
	a := New(Options{
		CLI:    NewCLI(bin),
		Prober: &Prober{ping: (&fakePing{}).ping},
	})
	if mode := a.Init(context.Background()); mode != ModeCliFallback {
		t.Fatalf("Init = %v, want CliFallback", mode)
	}
	return a
}

// newUnavailableAdapter builds an adapter with no reachable transport.
func newUnavailableAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := New(Options{
		CLI:    NewCLI(filepath.Join(t.TempDir(), "missing")),
		Prober: &Prober{ping: (&fakePing{}).ping},
	})
	if mode := a.Init(context.Background()); mode != ModeUnavailable {
		t.Fatalf("Init = %v, want Unavailable", mode)
	}
	return a
}

func TestInit_NetworkSelected(t *testing.T) {
	var selected string
	fc := &fakeClient{models: []ollama.Model{{Name: "llama3"}}}
	f := &fakePing{success: "http://found:11434"}
	a := New(Options{
		Candidates: []string{"http://dead:11434", "http://found:11434"},
		CLI:        NewCLI("unused"),
		Prober:     &Prober{ping: f.ping},
		OnSelect:   func(url string) { selected = url },
		NewClient:  func(string) NetworkClient { return fc },
	})

	if mode := a.Init(context.Background()); mode != ModeNetworkAPI {
		t.Fatalf("Init = %v, want NetworkAPI", mode)
	}
	if selected != "http://found:11434" {
		t.Errorf("OnSelect received %q, want the probed endpoint", selected)
	}
	// Verification call happened exactly once.
	if fc.listCalls != 1 {
		t.Errorf("verification ListModels calls = %d, want 1", fc.listCalls)
	}
}

func TestInit_Idempotent(t *testing.T) {
	fc := &fakeClient{}
	f := &fakePing{success: "http://found:11434"}
	a := New(Options{
		Candidates: []string{"http://found:11434"},
		CLI:        NewCLI("unused"),
		Prober:     &Prober{ping: f.ping},
		NewClient:  func(string) NetworkClient { return fc },
	})

	first := a.Init(context.Background())
	second := a.Init(context.Background())
	if first != second {
		t.Errorf("repeated Init = %v then %v, want same mode", first, second)
	}
	// Neither the prober nor the verification call runs again.
	if len(f.probed) != 1 {
		t.Errorf("probe attempts = %d, want 1", len(f.probed))
	}
	if fc.listCalls != 1 {
		t.Errorf("ListModels calls = %d, want 1", fc.listCalls)
	}
}

func TestInit_VerificationFailureFallsBackToCLI(t *testing.T) {
	fc := &fakeClient{listErr: errors.New("tags broken")}
	f := &fakePing{success: "http://found:11434"}
	bin := writeScript(t, `echo "ollama version 0.6.2"`)
	a := New(Options{
		Candidates: []string{"http://found:11434"},
		CLI:        NewCLI(bin),
		Prober:     &Prober{ping: f.ping},
		NewClient:  func(string) NetworkClient { return fc },
	})

	if mode := a.Init(context.Background()); mode != ModeCliFallback {
		t.Errorf("Init = %v, want CliFallback after verification failure", mode)
	}
}

func TestInit_NothingAvailable(t *testing.T) {
	newUnavailableAdapter(t)
}

func TestChat_Network_NonStreaming(t *testing.T) {
	fc := &fakeClient{chatBody: json.RawMessage(`{"message":{"role":"assistant","content":"hi"},"done":true}`)}
	a := newNetworkAdapter(t, fc)

	resp, err := a.Chat(context.Background(), ollama.ChatRequest{Model: "llama3"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Streaming() {
		t.Error("response is streaming, want single body")
	}
	if string(resp.Body) != string(fc.chatBody) {
		t.Errorf("Body = %s, want pass-through of transport response", resp.Body)
	}
}

func TestChat_Network_StreamingRelaysChunks(t *testing.T) {
	fc := &fakeClient{streamBody: `{"message":{"content":"a"},"done":false}
{"message":{"content":"b"},"done":false}
{"message":{"content":""},"done":true}
`}
	a := newNetworkAdapter(t, fc)

	resp, err := a.Chat(context.Background(), ollama.ChatRequest{Model: "llama3", Stream: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.Streaming() {
		t.Fatal("response is not streaming")
	}

	var chunks []string
	for chunk := range resp.Chunks {
		chunks = append(chunks, string(chunk))
	}
	if err := <-resp.Errs; err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	// Arrival order preserved.
	if !strings.Contains(chunks[0], `"a"`) || !strings.Contains(chunks[1], `"b"`) {
		t.Errorf("chunks out of order: %v", chunks)
	}
}

func TestChat_Cli_SynthesizesEnvelope(t *testing.T) {
	a := newCliAdapter(t, `echo "the answer"`)

	resp, err := a.Chat(context.Background(), ollama.ChatRequest{
		Model:    "llama3",
		Messages: []ollama.Message{{Role: "user", Content: "question"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Streaming() {
		t.Error("CLI response is streaming, want single body")
	}

	var body struct {
		Model   string         `json:"model"`
		Message ollama.Message `json:"message"`
		Done    bool           `json:"done"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("decoding synthesized body: %v", err)
	}
	if body.Message.Role != "assistant" || !body.Done {
		t.Errorf("body = %+v, want assistant message with done=true", body)
	}
	if strings.TrimSpace(body.Message.Content) != "the answer" {
		t.Errorf("content = %q, want CLI stdout", body.Message.Content)
	}
}

func TestChat_Cli_StreamRejectedWithoutInvocation(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "invoked")
	a := newCliAdapter(t, `if [ "$1" = "run" ]; then touch `+marker+`; fi; echo ok`)

	_, err := a.Chat(context.Background(), ollama.ChatRequest{Model: "llama3", Stream: true})
	if !errors.Is(err, ErrStreamingUnsupported) {
		t.Fatalf("error = %v, want ErrStreamingUnsupported", err)
	}
	if _, statErr := os.Stat(marker); !os.IsNotExist(statErr) {
		t.Error("CLI was invoked for a rejected streaming request")
	}
}

func TestGenerate_Cli_UsesPrompt(t *testing.T) {
	// The script echoes its third argument (the prompt).
	a := newCliAdapter(t, `if [ "$1" = "run" ]; then echo "$3"; else echo ok; fi`)

	resp, err := a.Generate(context.Background(), ollama.GenerateRequest{Model: "llama3", Prompt: "ping"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var body struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("decoding synthesized body: %v", err)
	}
	if strings.TrimSpace(body.Response) != "ping" || !body.Done {
		t.Errorf("body = %+v, want response=ping done=true", body)
	}
}

func TestManageModel_Network(t *testing.T) {
	fc := &fakeClient{manageBody: json.RawMessage(`{"status":"success"}`)}
	a := newNetworkAdapter(t, fc)

	body, err := a.ManageModel(context.Background(), "delete", json.RawMessage(`{"name":"llama3"}`))
	if err != nil {
		t.Fatalf("ManageModel: %v", err)
	}
	if !strings.Contains(string(body), "success") {
		t.Errorf("body = %s", body)
	}
}

func TestManageModel_CliRejected(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "invoked")
	a := newCliAdapter(t, `touch `+marker+`-"$1"; echo ok`)

	_, err := a.ManageModel(context.Background(), "delete", json.RawMessage(`{"name":"llama3"}`))
	if !errors.Is(err, ErrUnsupportedByMode) {
		t.Fatalf("error = %v, want ErrUnsupportedByMode", err)
	}
	if _, statErr := os.Stat(marker + "-run"); !os.IsNotExist(statErr) {
		t.Error("CLI was invoked for a rejected manage operation")
	}
}

func TestManageModel_Unavailable(t *testing.T) {
	a := newUnavailableAdapter(t)
	if _, err := a.ManageModel(context.Background(), "pull", nil); !errors.Is(err, ErrUnsupportedByMode) {
		t.Errorf("error = %v, want ErrUnsupportedByMode", err)
	}
}

func TestEmbeddings_CliRejected(t *testing.T) {
	a := newCliAdapter(t, `echo ok`)
	if _, err := a.Embeddings(context.Background(), json.RawMessage(`{}`)); !errors.Is(err, ErrUnsupportedByMode) {
		t.Errorf("error = %v, want ErrUnsupportedByMode", err)
	}
}

func TestChat_Unavailable(t *testing.T) {
	a := newUnavailableAdapter(t)
	if _, err := a.Chat(context.Background(), ollama.ChatRequest{Model: "llama3"}); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("error = %v, want ErrBackendUnavailable", err)
	}
}

func TestStatus_Unavailable(t *testing.T) {
	a := newUnavailableAdapter(t)
	s := a.Status()
	if s.Mode != "Unavailable" {
		t.Errorf("Mode = %q, want Unavailable", s.Mode)
	}
	if s.Endpoint != nil {
		t.Errorf("Endpoint = %v, want nil", *s.Endpoint)
	}
	if s.CliActive {
		t.Error("CliActive = true, want false")
	}
}

func TestStatus_Network(t *testing.T) {
	a := newNetworkAdapter(t, &fakeClient{})
	s := a.Status()
	if s.Mode != "NetworkAPI" {
		t.Errorf("Mode = %q, want NetworkAPI", s.Mode)
	}
	if s.Endpoint == nil || *s.Endpoint != "http://found:11434" {
		t.Errorf("Endpoint = %v, want the discovered URL", s.Endpoint)
	}
}

func TestStatus_BeforeInit(t *testing.T) {
	a := New(Options{CLI: NewCLI("unused")})
	if s := a.Status(); s.Mode != "Uninitialized" {
		t.Errorf("Mode = %q, want Uninitialized", s.Mode)
	}
}
