// Package mock provides a test double for the video.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/hibiki-ai/hibiki/pkg/provider/video"
)

// GenerateCall records a single invocation of Provider.Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the Request passed to Generate.
	Req video.Request
}

// Provider is a mock implementation of video.Provider.
// A zero-value Provider returns an empty Artifact and nil error.
type Provider struct {
	mu sync.Mutex

	// Artifact is returned by Generate. If nil, a zero-value Artifact is
	// returned instead.
	Artifact *video.Artifact

	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// GenerateCalls records every call to Generate.
	GenerateCalls []GenerateCall
}

// Generate records the call and returns Artifact, GenerateErr.
func (p *Provider) Generate(ctx context.Context, req video.Request) (*video.Artifact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})
	if p.GenerateErr != nil {
		return nil, p.GenerateErr
	}
	if p.Artifact != nil {
		return p.Artifact, nil
	}
	return &video.Artifact{}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = nil
}

// Ensure Provider implements video.Provider at compile time.
var _ video.Provider = (*Provider)(nil)
