package llm

import (
	"context"
	"io"
	"sync"
)

// TextEngine is the text-generation collaborator: one blocking round-trip
// per call, the full response returned once the stream ends. The call has no
// internal timeout; callers bound it through ctx.
type TextEngine interface {
	Generate(ctx context.Context, prompt string, deterministic bool) (string, error)
}

// VisionEngine is the vision+text collaborator used for label extraction.
// Sampling is non-deterministic by design.
type VisionEngine interface {
	Extract(ctx context.Context, image []byte, prompt string) (string, error)
}

// Gate owns a lazily-initialized engine and serializes access to it: the
// underlying model occupies exclusive compute resources, so only one
// inference session may be active at a time. Acquire may block for a long
// time on first use while the model artifact downloads.
type Gate struct {
	sem  chan struct{}
	mu   sync.Mutex
	eng  TextEngine
	open func() (TextEngine, error)
}

// NewGate around an engine factory. The factory runs at most once, under
// the gate, on the first successful Acquire.
func NewGate(open func() (TextEngine, error)) *Gate {
	return &Gate{
		sem:  make(chan struct{}, 1),
		open: open,
	}
}

// Acquire the engine for one inference session. The returned release
// function must be called when the session is done. Waiting callers queue;
// ctx cancels the wait.
func (g *Gate) Acquire(ctx context.Context) (TextEngine, func(), error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	g.mu.Lock()
	if g.eng == nil {
		eng, err := g.open()
		if err != nil {
			g.mu.Unlock()
			<-g.sem
			return nil, nil, err
		}

		g.eng = eng
	}
	eng := g.eng
	g.mu.Unlock()

	release := func() {
		<-g.sem
	}

	return eng, release, nil
}

// Close the underlying engine if it was ever opened, resetting the gate to
// its lazy state
func (g *Gate) Close() error {
	g.sem <- struct{}{}
	defer func() { <-g.sem }()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.eng == nil {
		return nil
	}

	var err error
	if closer, ok := g.eng.(io.Closer); ok {
		err = closer.Close()
	}

	g.eng = nil

	return err
}
