package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/ret"
)

// DefaultProviderTimeout bounds a single provider query. A query that runs
// past it resolves Unknown like any other provider error.
const DefaultProviderTimeout = 5 * time.Second

const tracerName = "github.com/roach88/dgate/internal/engine"

// Engine drives runs through their scenario's stage graph.
//
// Thread-safety: all methods are safe for concurrent use. Calls on the
// same run are serialized; calls on different runs proceed in parallel.
type Engine struct {
	store      core.RunStateStore
	provider   core.EvidenceProvider
	dispatcher core.Dispatcher
	registry   *Registry

	policy core.PolicyDecider
	shapes core.DataShapeRegistry

	evaluator       ret.Evaluator
	defaultLane     core.TrustLane
	providerTimeout time.Duration
	dispatcherName  string

	logger *slog.Logger
	tracer trace.Tracer
	locks  *runLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithLogicMode selects the tri-state algebra. Default: Kleene.
func WithLogicMode(m ret.LogicMode) Option {
	return func(e *Engine) {
		e.evaluator = ret.NewEvaluator(m)
	}
}

// WithDefaultMinLane sets the lane every condition must meet before gate
// and condition requirements raise it. Default: verified.
//
// Lowering it to asserted is the audited policy override that lets
// caller-supplied evidence pass gates.
func WithDefaultMinLane(l core.TrustLane) Option {
	return func(e *Engine) {
		e.defaultLane = l
	}
}

// WithProviderTimeout bounds each provider query.
func WithProviderTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.providerTimeout = d
	}
}

// WithPolicy installs a disclosure policy consulted per dispatch target.
func WithPolicy(p core.PolicyDecider) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithDataShapes installs the schema registry used by ScenarioSubmit and
// packet issuance.
func WithDataShapes(r core.DataShapeRegistry) Option {
	return func(e *Engine) {
		e.shapes = r
	}
}

// WithRegistry shares a scenario registry between engines.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Default: the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// WithDispatcherName labels receipts with the dispatcher that produced
// them.
func WithDispatcherName(name string) Option {
	return func(e *Engine) {
		e.dispatcherName = name
	}
}

// New creates an Engine over the given store, evidence provider and
// dispatcher.
func New(store core.RunStateStore, provider core.EvidenceProvider, dispatcher core.Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		provider:        provider,
		dispatcher:      dispatcher,
		evaluator:       ret.NewEvaluator(ret.Kleene),
		defaultLane:     core.LaneVerified,
		providerTimeout: DefaultProviderTimeout,
		logger:          slog.Default(),
		tracer:          otel.Tracer(tracerName),
		locks:           newRunLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	return e
}

// Registry returns the engine's scenario registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// RegisterScenario validates spec, checks that every provider it queries is
// bound, registers its data shapes and stores it by id. Registering the
// same content twice is a no-op.
func (e *Engine) RegisterScenario(spec *core.ScenarioSpec) (*RegisteredScenario, error) {
	if spec == nil {
		return nil, NewValidationError("scenario spec is required")
	}
	if err := spec.Validate(); err != nil {
		return nil, newError(ErrCodeValidation, "", err, "scenario %q is invalid", spec.ScenarioID)
	}
	if e.provider != nil {
		if err := e.provider.ValidateProviders(spec); err != nil {
			return nil, newError(ErrCodeProviderMissing, "", err, "scenario %q references unbound providers", spec.ScenarioID)
		}
	}
	if e.shapes != nil {
		for _, shape := range spec.DataShapes {
			if shape.Schema == nil {
				continue
			}
			if err := e.shapes.Register(shape); err != nil {
				return nil, newError(ErrCodeDataShape, "", err, "register data shape %q", shape.SchemaID)
			}
		}
	}
	reg, err := e.registry.Register(spec)
	if err != nil {
		return nil, err
	}
	e.logger.Info("scenario registered",
		"scenario_id", spec.ScenarioID,
		"namespace_id", spec.NamespaceID,
		"spec_hash", reg.Hash.String(),
		"event", "scenario_registered",
	)
	return reg, nil
}

// loadRun loads a run and its scenario, checking the spec hash.
func (e *Engine) loadRun(ctx context.Context, key core.RunKey) (*core.RunState, *RegisteredScenario, error) {
	state, err := e.store.Load(ctx, key)
	if err != nil {
		return nil, nil, newError(ErrCodeStore, key.RunID, err, "load run")
	}
	if state == nil {
		return nil, nil, newError(ErrCodeRunNotFound, key.RunID, nil, "run %s not found", key)
	}
	reg, ok := e.registry.Lookup(state.NamespaceID, state.ScenarioID)
	if !ok {
		return nil, nil, newError(ErrCodeScenarioNotFound, key.RunID, nil, "scenario %q is not registered", state.ScenarioID)
	}
	if !reg.Hash.Equal(state.SpecHash) {
		return nil, nil, newError(ErrCodeRunMismatch, key.RunID, nil,
			"run was started on spec %s but %s is registered", state.SpecHash, reg.Hash)
	}
	return state, reg, nil
}

// save persists state and maps store sentinels onto engine codes.
func (e *Engine) save(ctx context.Context, state *core.RunState) error {
	if err := e.store.Save(ctx, state); err != nil {
		switch {
		case errors.Is(err, core.ErrRunExists):
			return newError(ErrCodeRunExists, state.RunID, err, "run already exists")
		case errors.Is(err, core.ErrVersionConflict):
			return newError(ErrCodeRunMismatch, state.RunID, err, "run was modified concurrently")
		default:
			return newError(ErrCodeStore, state.RunID, err, "save run")
		}
	}
	return nil
}
