package frontdoor

import (
	"context"
	"sync"

	"github.com/One-com/gone/log"
	"github.com/pkg/errors"

	"github.com/One-com/frontdoor/config"
)

// Stage is one step of building the shared handler, e.g. attaching
// authentication before the API routes are registered.
type Stage interface {
	Name() string
	Init(ctx context.Context, hc *HandlerContext) error
}

type stageFunc struct {
	name string
	f    func(context.Context, *HandlerContext) error
}

func (s *stageFunc) Name() string { return s.name }

func (s *stageFunc) Init(ctx context.Context, hc *HandlerContext) error {
	return s.f(ctx, hc)
}

// StageFunc makes a Stage from a function.
func StageFunc(name string, f func(ctx context.Context, hc *HandlerContext) error) Stage {
	return &stageFunc{name: name, f: f}
}

// CallbackStage adapts a collaborator which reports completion through a
// callback instead of returning. The stage completes on the first callback;
// later invocations are logged and ignored.
func CallbackStage(name string, init func(hc *HandlerContext, done func(error))) Stage {
	return StageFunc(name, func(ctx context.Context, hc *HandlerContext) error {
		result := make(chan error, 1)
		var once sync.Once
		done := func(err error) {
			called := false
			once.Do(func() {
				called = true
				result <- err
			})
			if !called {
				log.WARN("Stage completed more than once", "stage", name, "err", err)
			}
		}

		init(hc, done)

		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// runStages runs the stages in order, stopping at the first failure which
// is returned as is together with the failing stage.
func runStages(ctx context.Context, hc *HandlerContext, stages []Stage) (Stage, error) {
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		log.DEBUG("Initializing stage", "stage", s.Name())
		if err := s.Init(ctx, hc); err != nil {
			log.ERROR("Stage failed", "stage", s.Name(), "err", err)
			return s, err
		}
	}
	return nil, nil
}

// Stages referenced by name from config are registered here.
var (
	stageRegistryMu sync.RWMutex
	stageRegistry   = map[string]Stage{}
)

// RegisterStage makes a stage available to the "Stages" list in the config file.
// Registering a name again replaces the earlier stage.
func RegisterStage(s Stage) {
	stageRegistryMu.Lock()
	defer stageRegistryMu.Unlock()
	stageRegistry[s.Name()] = s
}

// stagesByName resolves config stage names in order.
func stagesByName(names []string) (stages []Stage, err error) {
	stageRegistryMu.RLock()
	defer stageRegistryMu.RUnlock()

	for _, name := range names {
		s, ok := stageRegistry[name]
		if !ok {
			return nil, &config.ConfigError{Field: "Stages", Err: errors.Errorf("no such stage: %s", name)}
		}
		stages = append(stages, s)
	}
	return
}
