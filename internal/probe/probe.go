// Package probe defines the two capability interfaces the core depends on
// for reaching real upstreams (spec §6, §9 "dynamic dispatch on providers"):
// UpstreamInvoker, implemented once per provider and looked up by the
// provider enum, and Prober, which issues synthetic requests through an
// invoker to drive health state.
package probe

import (
	"context"
	"time"

	"github.com/ish-automation/fleet-control-plane/internal/ctrlerr"
	"github.com/ish-automation/fleet-control-plane/internal/model"
)

// InvokeOptions configures one upstream call.
type InvokeOptions struct {
	Temperature time.Duration // placeholder knobs kept minimal; adapters interpret provider-specific fields
	MaxTokens   int
	Timeout     time.Duration
}

// InvokeResult is what a successful upstream call returns.
type InvokeResult struct {
	Text        string
	TokensUsed  int
	ResponseMS  float64
}

// UpstreamInvoker is implemented once per provider; the core treats every
// provider uniformly through this adapter. Per-provider request shaping
// (auth header placement, message schema) is adapter-local.
type UpstreamInvoker interface {
	Invoke(ctx context.Context, in *model.Instance, prompt string, opts InvokeOptions) (*InvokeResult, error)
}

// Registry looks up an UpstreamInvoker by provider, replacing the
// dynamic-dispatch adapter hierarchy named in spec §9.
type Registry struct {
	invokers map[model.Provider]UpstreamInvoker
}

func NewRegistry() *Registry {
	return &Registry{invokers: make(map[model.Provider]UpstreamInvoker)}
}

func (r *Registry) Register(p model.Provider, invoker UpstreamInvoker) {
	r.invokers[p] = invoker
}

func (r *Registry) For(p model.Provider) (UpstreamInvoker, bool) {
	inv, ok := r.invokers[p]
	return inv, ok
}

// ProbeResult is the outcome of one synthetic request (spec §6).
type ProbeResult struct {
	OK         bool
	ResponseMS float64
	Score      float64
	Detail     string
}

// Prober issues a synthetic request against an instance.
type Prober interface {
	Probe(ctx context.Context, in *model.Instance, kind model.ProbeKind) (ProbeResult, error)
}

// synthetic prompts used by the default Prober implementation, fixed per
// probe kind as spec §6 requires ("implemented via the invoker with fixed
// synthetic prompts").
const (
	promptBasic         = "ping"
	promptFactual       = "What is the capital of France? Answer in one word."
	promptShortResponse = "Reply with the single word: ok."
)

// InvokerProber implements Prober on top of an UpstreamInvoker registry,
// the only concrete wiring the core provides between C3 and the per-
// provider adapters.
type InvokerProber struct {
	invokers *Registry
	timeout  time.Duration
}

func NewInvokerProber(invokers *Registry, timeout time.Duration) *InvokerProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &InvokerProber{invokers: invokers, timeout: timeout}
}

func (p *InvokerProber) Probe(ctx context.Context, in *model.Instance, kind model.ProbeKind) (ProbeResult, error) {
	inv, ok := p.invokers.For(in.Provider)
	if !ok {
		return ProbeResult{}, ctrlerr.ErrConfig("no invoker registered for provider " + string(in.Provider))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch kind {
	case model.ProbeBasic:
		return p.runOne(ctx, inv, in, promptBasic)
	case model.ProbeComprehensive:
		return p.runComprehensive(ctx, inv, in)
	default:
		return p.runOne(ctx, inv, in, promptBasic)
	}
}

func (p *InvokerProber) runOne(ctx context.Context, inv UpstreamInvoker, in *model.Instance, prompt string) (ProbeResult, error) {
	start := time.Now()
	res, err := inv.Invoke(ctx, in, prompt, InvokeOptions{MaxTokens: 16, Timeout: p.timeout})
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		return ProbeResult{OK: false, ResponseMS: elapsed, Detail: err.Error()}, err
	}
	return ProbeResult{OK: true, ResponseMS: elapsed, Score: 100, Detail: res.Text}, nil
}

func (p *InvokerProber) runComprehensive(ctx context.Context, inv UpstreamInvoker, in *model.Instance) (ProbeResult, error) {
	prompts := []string{promptBasic, promptFactual, promptShortResponse}
	var total float64
	var ok int
	for _, prompt := range prompts {
		r, err := p.runOne(ctx, inv, in, prompt)
		if err == nil && r.OK {
			ok++
		}
		total += r.ResponseMS
	}
	score := float64(ok) / float64(len(prompts)) * 100
	return ProbeResult{OK: ok > 0, ResponseMS: total / float64(len(prompts)), Score: score}, nil
}
