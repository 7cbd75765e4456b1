package di

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deckforge-backend/internal/errors"
	"deckforge-backend/internal/infrastructure/observability"
)

// replacedShutdownTimeout bounds the background shutdown of an instance
// displaced by re-registration.
const replacedShutdownTimeout = 30 * time.Second

// registration holds one token's factory and options.
type registration struct {
	token   Token
	factory Factory
	opts    Options
}

// Container is the service registry. Registrations are keyed by token and
// default to lazily constructed singletons. Cycle detection runs over the
// declared dependency metadata before any factory is invoked, so the
// per-token creation locks can never deadlock: the lock graph is acyclic.
type Container struct {
	mu            sync.RWMutex
	registrations map[string]*registration
	instances     map[string]any
	tokenLocks    map[string]*sync.Mutex
	initialized   map[string]bool
	creationOrder []string
	started       bool
	stopped       bool

	logger  *zap.Logger
	metrics *observability.Collector
	tracer  trace.Tracer
}

// ContainerOption customizes container construction.
type ContainerOption func(*Container)

// WithLogger sets the container's logger.
func WithLogger(logger *zap.Logger) ContainerOption {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the collector used for container metrics.
func WithMetrics(metrics *observability.Collector) ContainerOption {
	return func(c *Container) {
		c.metrics = metrics
	}
}

// NewContainer creates an empty container.
func NewContainer(opts ...ContainerOption) *Container {
	c := &Container{
		registrations: make(map[string]*registration),
		instances:     make(map[string]any),
		tokenLocks:    make(map[string]*sync.Mutex),
		initialized:   make(map[string]bool),
		logger:        zap.NewNop(),
		tracer:        otel.Tracer("deckforge-backend/di"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a service registration. Re-registering a token replaces the
// previous registration; any live instance is shut down in the background,
// best-effort, with failures logged rather than returned.
func (c *Container) Register(token Token, factory Factory, opts Options) error {
	if token.IsZero() {
		return errors.Validation(errors.CodeInvalidInput,
			"service token must not be empty").Build()
	}
	if factory == nil {
		return errors.Validation(errors.CodeInvalidInput,
			fmt.Sprintf("factory for service %q must not be nil", token.Name())).Build()
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return errors.Internal(errors.CodeContainerStopped,
			"cannot register services on a stopped container").Build()
	}

	_, replacing := c.registrations[token.Name()]
	displaced, hadInstance := c.instances[token.Name()]

	c.registrations[token.Name()] = &registration{
		token:   token,
		factory: factory,
		opts:    opts,
	}
	// Keep an existing creation lock so in-flight resolvers of this token
	// stay serialized across the swap.
	if _, ok := c.tokenLocks[token.Name()]; !ok {
		c.tokenLocks[token.Name()] = &sync.Mutex{}
	}
	if hadInstance {
		delete(c.instances, token.Name())
		delete(c.initialized, token.Name())
		c.creationOrder = removeName(c.creationOrder, token.Name())
	}
	total := len(c.registrations)
	c.mu.Unlock()

	if replacing {
		c.logger.Info("service registration replaced", zap.String("token", token.Name()))
	} else {
		c.logger.Debug("service registered",
			zap.String("token", token.Name()),
			zap.Bool("transient", opts.Transient),
			zap.Bool("eager", opts.Eager),
			zap.Int("dependencies", len(opts.Dependencies)),
		)
	}
	c.publishRegistrationGauge(total)

	if hadInstance {
		go c.shutdownDisplaced(token.Name(), displaced)
	}
	return nil
}

// shutdownDisplaced tears down an instance that lost its registration.
// Errors and panics are logged; nothing propagates to the registrant.
func (c *Container) shutdownDisplaced(name string, instance any) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("shutdown of replaced service panicked",
				zap.String("token", name),
				zap.Any("panic", r),
			)
		}
	}()

	s, ok := instance.(Shutdowner)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), replacedShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		c.logger.Warn("shutdown of replaced service failed",
			zap.String("token", name),
			zap.Error(err),
		)
	}
}

// Unregister removes a registration. A cached singleton instance is shut
// down best-effort; shutdown failures are logged, not returned.
func (c *Container) Unregister(ctx context.Context, token Token) error {
	c.mu.Lock()
	if _, exists := c.registrations[token.Name()]; !exists {
		c.mu.Unlock()
		return errors.UnregisteredToken(token.Name())
	}

	instance, hadInstance := c.instances[token.Name()]
	delete(c.registrations, token.Name())
	delete(c.instances, token.Name())
	delete(c.tokenLocks, token.Name())
	delete(c.initialized, token.Name())
	c.creationOrder = removeName(c.creationOrder, token.Name())
	remaining := len(c.registrations)
	c.mu.Unlock()

	c.logger.Info("service unregistered", zap.String("token", token.Name()))
	c.publishRegistrationGauge(remaining)

	if hadInstance {
		if s, ok := instance.(Shutdowner); ok {
			if err := s.Shutdown(ctx); err != nil {
				c.logger.Warn("shutdown of unregistered service failed",
					zap.String("token", token.Name()),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// Resolve returns the service instance for a token, invoking its factory
// on first use for singletons and on every call for transients. Declared
// dependencies are resolved before the factory runs.
func (c *Container) Resolve(ctx context.Context, token Token) (any, error) {
	c.mu.RLock()
	if c.stopped {
		c.mu.RUnlock()
		return nil, errors.Internal(errors.CodeContainerStopped,
			fmt.Sprintf("cannot resolve %q: container is stopped", token.Name())).Build()
	}
	reg, ok := c.registrations[token.Name()]
	c.mu.RUnlock()

	if !ok {
		return nil, errors.UnregisteredToken(token.Name())
	}

	if err := c.checkCycles(token.Name()); err != nil {
		return nil, err
	}

	if reg.opts.Transient {
		return c.invokeFactory(ctx, reg)
	}
	return c.resolveSingleton(ctx, reg)
}

// MustResolve is Resolve for wiring paths where a failure is fatal.
func (c *Container) MustResolve(ctx context.Context, token Token) any {
	instance, err := c.Resolve(ctx, token)
	if err != nil {
		panic(err)
	}
	return instance
}

func (c *Container) resolveSingleton(ctx context.Context, reg *registration) (any, error) {
	name := reg.token.Name()

	c.mu.RLock()
	if instance, ok := c.instances[name]; ok {
		c.mu.RUnlock()
		return instance, nil
	}
	lock := c.tokenLocks[name]
	c.mu.RUnlock()

	if lock == nil {
		return nil, errors.UnregisteredToken(name)
	}

	// Serialize creation per token. Concurrent resolvers of the same
	// singleton wait here and reuse the winner's instance.
	lock.Lock()
	defer lock.Unlock()

	c.mu.RLock()
	if instance, ok := c.instances[name]; ok {
		c.mu.RUnlock()
		return instance, nil
	}
	c.mu.RUnlock()

	instance, err := c.invokeFactory(ctx, reg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.instances[name] = instance
	c.creationOrder = append(c.creationOrder, name)
	started := c.started
	c.mu.Unlock()

	c.logger.Debug("service created", zap.String("token", name))
	if c.metrics != nil {
		c.metrics.IncrementCounter("container_services_created_total",
			map[string]string{"token": name})
	}

	if started {
		if err := c.initializeInstance(ctx, name, instance); err != nil {
			c.mu.Lock()
			delete(c.instances, name)
			c.creationOrder = removeName(c.creationOrder, name)
			c.mu.Unlock()
			return nil, err
		}
	}
	return instance, nil
}

// resolveDependencies constructs a registration's declared dependencies so
// they exist, and sit earlier in creation order, before the dependent.
func (c *Container) resolveDependencies(ctx context.Context, reg *registration) error {
	for _, dep := range reg.opts.Dependencies {
		if _, err := c.Resolve(ctx, dep); err != nil {
			return errors.Wrap(err, "Resolve",
				fmt.Sprintf("dependency %q of service %q failed", dep.Name(), reg.token.Name()))
		}
	}
	return nil
}

func (c *Container) invokeFactory(ctx context.Context, reg *registration) (instance any, err error) {
	name := reg.token.Name()

	if err := c.resolveDependencies(ctx, reg); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "container.create",
		trace.WithAttributes(attribute.String("service.token", name)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = errors.NewError(errors.ErrorTypeRegistration, errors.CodeFactoryFailed,
				fmt.Sprintf("factory for service %q panicked: %v", name, r)).Build()
			span.RecordError(err)
		}
	}()

	instance, err = reg.factory(ctx, c)
	if err != nil {
		span.RecordError(err)
		return nil, errors.NewError(errors.ErrorTypeRegistration, errors.CodeFactoryFailed,
			fmt.Sprintf("factory for service %q failed", name)).WithCause(err).Build()
	}
	if instance == nil {
		return nil, errors.NewError(errors.ErrorTypeRegistration, errors.CodeFactoryFailed,
			fmt.Sprintf("factory for service %q returned nil", name)).Build()
	}
	return instance, nil
}

// Start constructs all eager singletons in parallel and runs Initialize
// hooks in creation order. Calling Start on a started container is a no-op;
// a failed Start rolls the started flag back so it can be retried.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return errors.Internal(errors.CodeContainerStopped,
			"cannot start a stopped container").Build()
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true

	eager := make([]*registration, 0)
	for _, reg := range c.registrations {
		if reg.opts.Eager && !reg.opts.Transient {
			eager = append(eager, reg)
		}
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, reg := range eager {
		g.Go(func() error {
			_, err := c.Resolve(gctx, reg.token)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		c.abortStart()
		return errors.NewError(errors.ErrorTypeRegistration, errors.CodeContainerStartFailed,
			"container start failed").WithCause(err).Build()
	}

	c.mu.RLock()
	order := append([]string(nil), c.creationOrder...)
	instances := make(map[string]any, len(c.instances))
	for name, instance := range c.instances {
		instances[name] = instance
	}
	c.mu.RUnlock()

	for _, name := range order {
		if err := c.initializeInstance(ctx, name, instances[name]); err != nil {
			c.abortStart()
			return err
		}
	}

	c.logger.Info("container started",
		zap.Int("eager_services", len(eager)),
		zap.Int("created_services", len(order)),
	)
	return nil
}

func (c *Container) abortStart() {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
}

// Stop shuts down created singletons in reverse creation order and clears
// all cached instances. Shutdown errors do not stop the remaining
// teardowns; they are aggregated into the returned error. Stop is
// idempotent, and a stopped container stays stopped.
func (c *Container) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true

	order := c.creationOrder
	instances := c.instances
	c.creationOrder = nil
	c.instances = make(map[string]any)
	c.initialized = make(map[string]bool)
	c.mu.Unlock()

	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		s, ok := instances[name].(Shutdowner)
		if !ok {
			continue
		}
		if err := s.Shutdown(ctx); err != nil {
			c.logger.Error("service shutdown failed",
				zap.String("token", name),
				zap.Error(err),
			)
			errs = multierr.Append(errs, errors.Wrap(err, "Stop",
				fmt.Sprintf("shutdown of service %q failed", name)))
		}
	}

	c.logger.Info("container stopped", zap.Int("services", len(order)))
	return errs
}

// Health fans out health checks to all created singletons concurrently.
// Services without a HealthChecker are reported healthy; a panicking check
// is reported unhealthy.
func (c *Container) Health(ctx context.Context) map[string]HealthStatus {
	c.mu.RLock()
	instances := make(map[string]any, len(c.instances))
	for name, instance := range c.instances {
		instances[name] = instance
	}
	c.mu.RUnlock()

	results := make(map[string]HealthStatus, len(instances))
	var resMu sync.Mutex
	var wg sync.WaitGroup

	for name, instance := range instances {
		checker, ok := instance.(HealthChecker)
		if !ok {
			results[name] = Healthy("no health check implemented")
			continue
		}

		wg.Add(1)
		go func(name string, checker HealthChecker) {
			defer wg.Done()
			status := c.runHealthCheck(ctx, name, checker)
			resMu.Lock()
			results[name] = status
			resMu.Unlock()
		}(name, checker)
	}
	wg.Wait()
	return results
}

func (c *Container) runHealthCheck(ctx context.Context, name string, checker HealthChecker) (status HealthStatus) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("health check panicked",
				zap.String("token", name),
				zap.Any("panic", r),
			)
			status = Unhealthy(fmt.Sprintf("health check panicked: %v", r))
		}
	}()
	return checker.HealthCheck(ctx)
}

// Validate checks the whole registration graph: every declared dependency
// must be registered and the graph must be acyclic.
func (c *Container) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs error
	for name, reg := range c.registrations {
		for _, dep := range reg.opts.Dependencies {
			if _, ok := c.registrations[dep.Name()]; !ok {
				errs = multierr.Append(errs, errors.NewError(
					errors.ErrorTypeRegistration, errors.CodeServiceNotRegistered,
					fmt.Sprintf("service %q depends on unregistered service %q", name, dep.Name())).Build())
			}
		}
	}

	colors := make(map[string]int, len(c.registrations))
	for name := range c.registrations {
		if colors[name] == colorWhite {
			if err := c.visit(name, colors, nil); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

// Tokens returns the names of all registered tokens, sorted.
func (c *Container) Tokens() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.registrations))
	for name := range c.registrations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a token has a registration.
func (c *Container) IsRegistered(token Token) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.registrations[token.Name()]
	return ok
}

// ============================================================================
// CYCLE DETECTION
// ============================================================================

const (
	colorWhite = iota
	colorGrey
	colorBlack
)

// checkCycles walks the declared dependency graph from a token and fails
// on the first cycle. It runs before any factory so misconfigured graphs
// are rejected without side effects.
func (c *Container) checkCycles(start string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.visit(start, make(map[string]int), nil)
}

// visit is a depth-first walk over declared dependencies. Callers must
// hold at least a read lock.
func (c *Container) visit(name string, colors map[string]int, path []string) error {
	colors[name] = colorGrey
	path = append(path, name)

	if reg, ok := c.registrations[name]; ok {
		for _, dep := range reg.opts.Dependencies {
			depName := dep.Name()
			switch colors[depName] {
			case colorGrey:
				return errors.CircularDependency(cyclePath(path, depName))
			case colorWhite:
				if err := c.visit(depName, colors, path); err != nil {
					return err
				}
			}
		}
	}

	colors[name] = colorBlack
	return nil
}

// cyclePath trims the walk path to the cycle itself and closes the loop.
func cyclePath(path []string, repeated string) []string {
	for i, name := range path {
		if name == repeated {
			cycle := append([]string(nil), path[i:]...)
			return append(cycle, repeated)
		}
	}
	return append(append([]string(nil), path...), repeated)
}

// ============================================================================
// INTERNALS
// ============================================================================

func (c *Container) initializeInstance(ctx context.Context, name string, instance any) error {
	init, ok := instance.(Initializer)
	if !ok {
		return nil
	}

	c.mu.Lock()
	if c.initialized[name] {
		c.mu.Unlock()
		return nil
	}
	c.initialized[name] = true
	c.mu.Unlock()

	if err := init.Initialize(ctx); err != nil {
		c.mu.Lock()
		delete(c.initialized, name)
		c.mu.Unlock()
		return errors.NewError(errors.ErrorTypeRegistration, errors.CodeServiceInitFailed,
			fmt.Sprintf("initialize failed for service %q", name)).WithCause(err).Build()
	}

	c.logger.Debug("service initialized", zap.String("token", name))
	return nil
}

func (c *Container) publishRegistrationGauge(count int) {
	if c.metrics == nil {
		return
	}
	c.metrics.SetGauge("container_services_registered", float64(count), nil)
}

func removeName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
