package backend

import (
	"context"
	"testing"
)

// fakePing records probed URLs and succeeds only for the given one.
type fakePing struct {
	probed  []string
	success string
}

func (f *fakePing) ping(_ context.Context, url string) bool {
	f.probed = append(f.probed, url)
	return url == f.success
}

func TestProbe_FirstSuccessWins(t *testing.T) {
	f := &fakePing{success: "http://b"}
	p := &Prober{ping: f.ping}

	url, ok := p.Probe(context.Background(), []string{"http://a", "http://b", "http://c"})
	if !ok {
		t.Fatal("Probe returned not found")
	}
	if url != "http://b" {
		t.Errorf("url = %q, want http://b", url)
	}
	// Candidates after the winner must not be attempted.
	if len(f.probed) != 2 {
		t.Errorf("probed %v, want exactly [http://a http://b]", f.probed)
	}
}

func TestProbe_Exhausted(t *testing.T) {
	f := &fakePing{}
	p := &Prober{ping: f.ping}

	_, ok := p.Probe(context.Background(), []string{"http://a", "http://b"})
	if ok {
		t.Fatal("Probe reported success with no reachable candidate")
	}
	if len(f.probed) != 2 {
		t.Errorf("probed %d candidates, want 2", len(f.probed))
	}
}

func TestProbe_EmptyList(t *testing.T) {
	p := &Prober{ping: (&fakePing{}).ping}
	if _, ok := p.Probe(context.Background(), nil); ok {
		t.Fatal("Probe reported success for empty candidate list")
	}
}

func TestProbe_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakePing{success: "http://a"}
	p := &Prober{ping: f.ping}
	if _, ok := p.Probe(ctx, []string{"http://a"}); ok {
		t.Fatal("Probe succeeded under canceled context")
	}
	if len(f.probed) != 0 {
		t.Errorf("probed %v under canceled context, want none", f.probed)
	}
}
