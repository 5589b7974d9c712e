package crm

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/internal/resilience"
)

// Guarded wraps a Sink with a circuit breaker and retries. CreateLead is never
// retried: a timeout after the CRM committed the insert would create a
// second lead.
type Guarded struct {
	inner   Sink
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	log     *zap.Logger
}

// NewGuarded creates a Guarded sink. Only transient errors count towards
// opening the circuit.
func NewGuarded(inner Sink, retry resilience.RetryConfig, circuit resilience.CircuitBreakerConfig, log *zap.Logger) *Guarded {
	if log == nil {
		log = zap.NewNop()
	}
	if circuit.ShouldTrip == nil {
		circuit.ShouldTrip = resilience.IsTransient
	}
	if circuit.OnStateChange == nil {
		circuit.OnStateChange = func(from, to resilience.CircuitState) {
			log.Warn("crm: circuit state change",
				zap.Stringer("from", from), zap.Stringer("to", to))
		}
	}
	return &Guarded{
		inner:   inner,
		breaker: resilience.NewCircuitBreaker(circuit),
		retry:   retry,
		log:     log,
	}
}

// State exposes the circuit state.
func (g *Guarded) State() resilience.CircuitState {
	return g.breaker.State()
}

func (g *Guarded) retryFor(op string) resilience.RetryConfig {
	cfg := g.retry
	cfg.OnRetry = resilience.RetryLogger(g.log, "crm."+op)
	return cfg
}

func (g *Guarded) CreateLead(ctx context.Context, lead model.NormalizedLead) (string, error) {
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (string, error) {
		return g.inner.CreateLead(ctx, lead)
	})
}

func (g *Guarded) DeleteLead(ctx context.Context, ref string) error {
	return resilience.Do(ctx, g.retryFor("delete_lead"), func(ctx context.Context) error {
		return g.breaker.Execute(ctx, func(ctx context.Context) error {
			return g.inner.DeleteLead(ctx, ref)
		})
	})
}

type lookup struct {
	ref   string
	found bool
}

func (g *Guarded) FindCourse(ctx context.Context, name string) (string, bool, error) {
	res, err := resilience.DoVal(ctx, g.retryFor("find_course"), func(ctx context.Context) (lookup, error) {
		return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (lookup, error) {
			ref, found, err := g.inner.FindCourse(ctx, name)
			return lookup{ref, found}, err
		})
	})
	return res.ref, res.found, err
}

func (g *Guarded) EnsureSourceTag(ctx context.Context, tag string) (string, error) {
	return resilience.DoVal(ctx, g.retryFor("ensure_source_tag"), func(ctx context.Context) (string, error) {
		return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (string, error) {
			return g.inner.EnsureSourceTag(ctx, tag)
		})
	})
}

func (g *Guarded) FindOwnerByContact(ctx context.Context, email, phoneDigits string) (string, bool, error) {
	res, err := resilience.DoVal(ctx, g.retryFor("find_owner"), func(ctx context.Context) (lookup, error) {
		return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (lookup, error) {
			owner, found, err := g.inner.FindOwnerByContact(ctx, email, phoneDigits)
			return lookup{owner, found}, err
		})
	})
	return res.ref, res.found, err
}
