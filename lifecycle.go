package frontdoor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/One-com/gone/log"
	"golang.org/x/sync/errgroup"

	"github.com/One-com/frontdoor/config"
)

// ServiceState is the lifecycle state of a Controller.
//
//	Idle --Start--> Initializing --> Running --Stop--> Stopping --> Idle
//
// A failing Init or Start goes back to Idle.
type ServiceState int32

const (
	Idle ServiceState = iota
	Initializing
	Running
	Stopping
)

func (s ServiceState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Initializing:
		return "Initializing"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	}
	return "Unknown"
}

type runcfg struct {
	stages          []Stage
	bestEffort      bool          // keep the listeners which did bind if others fail
	shutdownTimeout time.Duration // graceful close bound, 0 closes immediately
	bypassPaths     []string
}

// Option to pass to New()
type Option func(*runcfg)

// Stages sets the stages building the shared handler, in the order they run.
// A config listing "Stages" by name overrides them.
func Stages(stages ...Stage) Option {
	return func(c *runcfg) {
		c.stages = append(c.stages, stages...)
	}
}

// BestEffort makes Start succeed if at least one instance binds.
// By default a single failing instance makes Start close every other listener and fail.
func BestEffort(b bool) Option {
	return func(c *runcfg) {
		c.bestEffort = b
	}
}

// ShutdownTimeout changes how long Stop waits for active requests before
// forcefully closing the listeners. It overrides the config "ShutdownTimeout".
func ShutdownTimeout(to time.Duration) Option {
	return func(c *runcfg) {
		c.shutdownTimeout = to
	}
}

// BypassPaths sets the path prefixes exempted from stateful middleware.
// It overrides the config "BypassPaths" and DefaultBypassPaths.
func BypassPaths(prefixes ...string) Option {
	return func(c *runcfg) {
		c.bypassPaths = prefixes
	}
}

// Controller starts and stops a set of listeners sharing one handler.
type Controller struct {
	opts runcfg

	// held for the whole duration of Init, Start and Stop
	opMu sync.Mutex

	mu              sync.Mutex
	state           ServiceState
	cfg             *config.Config
	handler         http.Handler
	listeners       []*ListenerHandle
	cleanup         func() error
	shutdownTimeout time.Duration
}

// New creates an idle Controller.
func New(opts ...Option) *Controller {
	c := &Controller{}
	for _, o := range opts {
		o(&c.opts)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() ServiceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s ServiceState) {
	c.mu.Lock()
	log.DEBUG("State change", "from", c.state, "to", s)
	c.state = s
	c.mu.Unlock()
}

// Init resolves the configuration and runs all stages, returning the built
// handler context without binding any listeners. The controller is Idle
// again when Init returns.
func (c *Controller) Init(ctx context.Context, src config.Source) (*HandlerContext, *config.Config, error) {
	if !c.opMu.TryLock() {
		return nil, nil, ErrAlreadyRunning
	}
	defer c.opMu.Unlock()

	hc, cfg, err := c.init(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	c.setState(Idle)
	return hc, cfg, nil
}

// init leaves the controller Initializing on success and Idle on failure.
// Caller must hold opMu.
func (c *Controller) init(ctx context.Context, src config.Source) (hc *HandlerContext, cfg *config.Config, err error) {
	if c.State() != Idle {
		return nil, nil, ErrAlreadyRunning
	}
	c.setState(Initializing)
	defer func() {
		if err != nil {
			c.setState(Idle)
			hc, cfg = nil, nil
		}
	}()

	if src == nil {
		src = config.Default()
	}
	cfg, err = src.Resolve()
	if err != nil {
		log.ERROR("Error configuring service", "err", err)
		return
	}

	stages := c.opts.stages
	if len(cfg.Stages) != 0 {
		stages, err = stagesByName(cfg.Stages)
		if err != nil {
			return
		}
	}

	paths := DefaultBypassPaths
	switch {
	case c.opts.bypassPaths != nil:
		paths = c.opts.bypassPaths
	case len(cfg.BypassPaths) != 0:
		paths = cfg.BypassPaths
	}

	hc = newHandlerContext(NewBypassFilter(paths...))
	hc.Set(SettingBaseURL, cfg.Primary().URL())

	failed, err := runStages(ctx, hc, stages)
	if err != nil {
		err = &SubsystemInitError{Stage: failed.Name(), Err: err}
		return
	}
	hc.freeze()
	return
}

// Start initializes the handler and creates one listener per configured
// instance, concurrently. It returns when every instance has bound or failed.
// On failure all listeners created by this call are closed again and the
// first error is returned. A nil src uses config.Default().
func (c *Controller) Start(ctx context.Context, src config.Source) (err error) {
	if !c.opMu.TryLock() {
		return ErrAlreadyRunning
	}
	defer c.opMu.Unlock()

	defer func() {
		if err != nil {
			startFails.Inc(1)
		}
	}()

	hc, cfg, err := c.init(ctx, src)
	if err != nil {
		return
	}

	handler, cleanup, err := c.wrapHandler(hc.Handler(), cfg)
	if err != nil {
		c.setState(Idle)
		return
	}

	timeout := c.opts.shutdownTimeout
	if timeout == 0 {
		timeout = cfg.ShutdownTimeout.Duration
	}

	handles, err := c.bindAll(ctx, cfg, handler, timeout)
	if err != nil {
		if e := cleanup(); e != nil {
			log.ERROR("Cleanup failed", "err", e)
		}
		c.setState(Idle)
		return
	}

	c.mu.Lock()
	c.cfg = cfg
	c.handler = handler
	c.listeners = handles
	c.cleanup = cleanup
	c.shutdownTimeout = timeout
	c.state = Running
	c.mu.Unlock()

	starts.Inc(1)
	log.NOTICE("Started", "listeners", len(handles), "baseURL", hc.Get(SettingBaseURL))
	return nil
}

// wrapHandler adds access logging and request metrics around the shared handler if configured.
func (c *Controller) wrapHandler(h http.Handler, cfg *config.Config) (http.Handler, func() error, error) {
	mfunc := requestMetrics("frontdoor.http", cfg.RequestMetrics)
	if mfunc == nil && cfg.AccessLog == "" {
		return h, func() error { return nil }, nil
	}
	oh, cleanup, err := wrapAuditHandler(h, cfg.AccessLog, mfunc)
	if err != nil {
		return nil, nil, config.WrapError(err)
	}
	return oh, cleanup, nil
}

// bindAll creates the listeners for all instances concurrently.
func (c *Controller) bindAll(ctx context.Context, cfg *config.Config, handler http.Handler, timeout time.Duration) ([]*ListenerHandle, error) {
	created := make([]*ListenerHandle, len(cfg.Instances))

	var g errgroup.Group
	for i, inst := range cfg.Instances {
		i, inst := i, inst
		g.Go(func() error {
			h, err := createListener(ctx, inst, cfg, handler)
			if err != nil {
				log.ERROR("Could not create listener", "url", inst.URL(), "err", err)
				return err
			}
			created[i] = h
			return nil
		})
	}
	err := g.Wait()

	var live []*ListenerHandle
	for _, h := range created {
		if h != nil {
			live = append(live, h)
		}
	}

	if err == nil {
		return live, nil
	}
	if c.opts.bestEffort && len(live) != 0 {
		log.WARN("Started partially", "listeners", len(live), "instances", len(cfg.Instances), "err", err)
		return live, nil
	}

	log.ERROR("Start failed, closing listeners", "err", err, "listeners", len(live))
	closeAll(context.Background(), live, timeout)
	return nil, err
}

// closeAll closes the listeners concurrently and waits for all of them.
// Errors are logged.
func closeAll(ctx context.Context, handles []*ListenerHandle, timeout time.Duration) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error {
			var err error
			if timeout > 0 {
				err = h.Shutdown(ctx)
			} else {
				err = h.Close()
			}
			if err != nil {
				log.ERROR("Error closing listener", "url", h.URL(), "err", err)
			}
			return nil
		})
	}
	g.Wait()
}

// Stop closes every listener and returns the controller to Idle.
// It is a no-op when Idle and waits for any Start in progress.
// Errors closing listeners are logged, not returned.
func (c *Controller) Stop(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	c.state = Stopping
	handles := c.listeners
	cleanup := c.cleanup
	timeout := c.shutdownTimeout
	c.mu.Unlock()

	closeAll(ctx, handles, timeout)

	if cleanup != nil {
		if err := cleanup(); err != nil {
			log.ERROR("Cleanup failed", "err", err)
		}
	}

	c.mu.Lock()
	c.listeners = nil
	c.handler = nil
	c.cfg = nil
	c.cleanup = nil
	c.state = Idle
	c.mu.Unlock()

	stops.Inc(1)
	log.NOTICE("Stopped")
}

// Restart stops the controller and starts it again from src.
func (c *Controller) Restart(ctx context.Context, src config.Source) error {
	c.Stop(ctx)
	return c.Start(ctx, src)
}

// Handler returns the shared handler while Running, else nil.
func (c *Controller) Handler() http.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// Config returns the effective configuration while Running, else nil.
func (c *Controller) Config() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Listeners returns the live listeners.
func (c *Controller) Listeners() []*ListenerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ListenerHandle(nil), c.listeners...)
}

// BaseURL is the URL of the primary instance while Running, else "".
func (c *Controller) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil {
		return ""
	}
	return c.cfg.Primary().URL()
}
