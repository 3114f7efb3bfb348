package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/embedgate/pkg/utils"
)

// RegistryConfig holds routing settings.
type RegistryConfig struct {
	Default         string
	FallbackEnabled bool
	// Timeout bounds every single provider call.
	Timeout time.Duration
}

// Registry holds the registered providers in registration order. It is
// read-only after NewRegistry returns.
type Registry struct {
	cfg       RegistryConfig
	providers []Provider
	byName    map[string]Provider
	logger    *zap.Logger
}

// NewRegistry registers providers in the given order. The order is the
// failover preference: the alternate for a failing primary is the first
// other provider in this list.
func NewRegistry(cfg RegistryConfig, providers []Provider, logger *zap.Logger) (*Registry, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers registered")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	r := &Registry{
		cfg:    cfg,
		byName: make(map[string]Provider, len(providers)),
		logger: utils.OrNop(logger),
	}
	for _, p := range providers {
		if _, dup := r.byName[p.Name()]; dup {
			return nil, fmt.Errorf("provider %q registered twice", p.Name())
		}
		r.byName[p.Name()] = p
		r.providers = append(r.providers, p)
	}
	if r.cfg.Default == "" {
		r.cfg.Default = providers[0].Name()
	}
	if _, ok := r.byName[r.cfg.Default]; !ok {
		return nil, &NotFoundError{Name: r.cfg.Default}
	}
	return r, nil
}

// DefaultName returns the provider used when none is requested.
func (r *Registry) DefaultName() string {
	return r.cfg.Default
}

// FallbackEnabled reports whether failover is on.
func (r *Registry) FallbackEnabled() bool {
	return r.cfg.FallbackEnabled
}

// Providers returns the providers in registration order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Resolve returns the named provider, or the default when name is empty.
func (r *Registry) Resolve(name string) (Provider, error) {
	if name == "" {
		name = r.cfg.Default
	}
	p, ok := r.byName[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return p, nil
}

// ResolveModel returns the provider for name and the model it will serve:
// model itself when given, otherwise the provider's default.
func (r *Registry) ResolveModel(name, model string) (Provider, string, error) {
	p, err := r.Resolve(name)
	if err != nil {
		return nil, "", err
	}
	if model == "" {
		model = p.DefaultModel()
	}
	return p, model, nil
}

// alternate returns the first registered provider other than primary.
func (r *Registry) alternate(primary Provider) Provider {
	if !r.cfg.FallbackEnabled || len(r.providers) < 2 {
		return nil
	}
	for _, p := range r.providers {
		if p.Name() != primary.Name() {
			return p
		}
	}
	return nil
}

// Embed calls the resolved provider and, if it fails, the alternate. model is
// passed unchanged to whichever provider serves the call.
func (r *Registry) Embed(ctx context.Context, text, model, providerName string) (*Result, error) {
	primary, err := r.Resolve(providerName)
	if err != nil {
		return nil, err
	}

	res, primaryErr := r.embedWith(ctx, primary, text, model)
	if primaryErr == nil {
		return res, nil
	}

	alt := r.alternate(primary)
	if alt == nil || ctx.Err() != nil {
		return nil, primaryErr
	}
	r.logger.Warn("primary provider failed, trying fallback",
		zap.String("provider", primary.Name()),
		zap.String("fallback", alt.Name()),
		zap.Error(primaryErr.Err))

	res, fallbackErr := r.embedWith(ctx, alt, text, model)
	if fallbackErr != nil {
		return nil, &AllFailedError{Primary: primaryErr, Fallback: fallbackErr}
	}
	stampFallback(res, primary.Name(), primaryErr)
	return res, nil
}

// EmbedBatch embeds texts with one provider call. A failure anywhere in the
// primary's batch retries the entire batch on the alternate.
func (r *Registry) EmbedBatch(ctx context.Context, texts []string, model, providerName string) ([]*Result, error) {
	primary, err := r.Resolve(providerName)
	if err != nil {
		return nil, err
	}

	results, primaryErr := r.embedBatchWith(ctx, primary, texts, model)
	if primaryErr == nil {
		return results, nil
	}

	alt := r.alternate(primary)
	if alt == nil || ctx.Err() != nil {
		return nil, primaryErr
	}
	r.logger.Warn("primary provider failed batch, retrying batch on fallback",
		zap.String("provider", primary.Name()),
		zap.String("fallback", alt.Name()),
		zap.Int("count", len(texts)),
		zap.Error(primaryErr.Err))

	results, fallbackErr := r.embedBatchWith(ctx, alt, texts, model)
	if fallbackErr != nil {
		return nil, &AllFailedError{Primary: primaryErr, Fallback: fallbackErr}
	}
	for _, res := range results {
		stampFallback(res, primary.Name(), primaryErr)
	}
	return results, nil
}

func (r *Registry) embedWith(ctx context.Context, p Provider, text, model string) (*Result, *CallError) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	res, err := p.Embed(ctx, text, model)
	if err != nil {
		return nil, asCallError(p.Name(), err)
	}
	if res == nil {
		return nil, &CallError{Provider: p.Name(), Err: errors.New("no result")}
	}
	return res, nil
}

func (r *Registry) embedBatchWith(ctx context.Context, p Provider, texts []string, model string) ([]*Result, *CallError) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	results, err := p.EmbedBatch(ctx, texts, model)
	if err != nil {
		return nil, asCallError(p.Name(), err)
	}
	if len(results) != len(texts) {
		return nil, &CallError{Provider: p.Name(), Err: fmt.Errorf("returned %d results for %d texts", len(results), len(texts))}
	}
	return results, nil
}

func asCallError(name string, err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) && ce.Provider == name {
		return ce
	}
	return &CallError{Provider: name, Err: err}
}

func stampFallback(res *Result, primary string, cause *CallError) {
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	res.Metadata[MetaFallback] = true
	res.Metadata[MetaPrimaryProvider] = primary
	res.Metadata[MetaPrimaryError] = cause.Err.Error()
}

// HealthCheck checks one provider.
func (r *Registry) HealthCheck(ctx context.Context, name string) (bool, error) {
	p, err := r.Resolve(name)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return p.HealthCheck(ctx), nil
}

// HealthCheckAll checks every provider concurrently.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]bool {
	var mu sync.Mutex
	health := make(map[string]bool, len(r.providers))

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range r.providers {
		p := p
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
			ok := p.HealthCheck(cctx)
			mu.Lock()
			health[p.Name()] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return health
}

// Close closes every provider.
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
