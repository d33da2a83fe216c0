package frontdoor

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

// ErrHandlerBuilt is returned when a HandlerContext is changed after the
// shared handler has been handed to the listeners.
var ErrHandlerBuilt = errors.New("handler already built")

// SettingBaseURL is the setting holding the URL of the primary instance.
const SettingBaseURL = "baseURL"

// HandlerContext is the mutable handler under construction, passed to every stage.
// Once all stages have run it is frozen and served by every listener.
type HandlerContext struct {
	mu       sync.Mutex
	router   chi.Router
	bypass   *BypassFilter
	settings map[string]interface{}
	built    bool
}

func newHandlerContext(bypass *BypassFilter) *HandlerContext {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	return &HandlerContext{
		router:   r,
		bypass:   bypass,
		settings: make(map[string]interface{}),
	}
}

// modify runs f on the router unless the handler is built.
// chi panics on misuse (middleware after routes); that is reported as an error.
func (hc *HandlerContext) modify(f func(r chi.Router)) (err error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if hc.built {
		return ErrHandlerBuilt
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler setup: %v", p)
		}
	}()
	f(hc.router)
	return
}

// Use appends middleware to the shared handler. All middleware must be
// added before the first route.
func (hc *HandlerContext) Use(mw ...func(http.Handler) http.Handler) error {
	return hc.modify(func(r chi.Router) { r.Use(mw...) })
}

// UseStateful appends middleware which is skipped for bypassed paths.
func (hc *HandlerContext) UseStateful(mw func(http.Handler) http.Handler) error {
	return hc.Use(hc.bypass.Wrap(mw))
}

// Handle registers a handler for a route pattern.
func (hc *HandlerContext) Handle(pattern string, h http.Handler) error {
	return hc.modify(func(r chi.Router) { r.Handle(pattern, h) })
}

// Mount attaches a sub handler below pattern.
func (hc *HandlerContext) Mount(pattern string, h http.Handler) error {
	return hc.modify(func(r chi.Router) { r.Mount(pattern, h) })
}

// Route creates a sub router below pattern.
func (hc *HandlerContext) Route(pattern string, fn func(r chi.Router)) error {
	return hc.modify(func(r chi.Router) { r.Route(pattern, fn) })
}

// NotFound sets the handler for unmatched requests.
func (hc *HandlerContext) NotFound(h http.HandlerFunc) error {
	return hc.modify(func(r chi.Router) { r.NotFound(h) })
}

// Set stores a named setting for later stages.
func (hc *HandlerContext) Set(key string, v interface{}) {
	hc.mu.Lock()
	hc.settings[key] = v
	hc.mu.Unlock()
}

// Get returns a named setting or nil.
func (hc *HandlerContext) Get(key string) interface{} {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.settings[key]
}

// Bypass returns the filter used by UseStateful.
func (hc *HandlerContext) Bypass() *BypassFilter {
	return hc.bypass
}

// Built tells whether the handler has been frozen.
func (hc *HandlerContext) Built() bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.built
}

// Handler returns the shared handler once it is built, else nil.
func (hc *HandlerContext) Handler() http.Handler {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if !hc.built {
		return nil
	}
	return hc.router
}

func (hc *HandlerContext) freeze() {
	hc.mu.Lock()
	hc.built = true
	hc.mu.Unlock()
}
