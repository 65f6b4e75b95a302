package prep

import (
	"io"
	"log/slog"
	"sync"
)

// Subscription registers one open response stream with the engine. The two
// callbacks are write-only sinks into that stream; they must not call back
// into the engine.
type Subscription struct {
	Path    string
	Profile EventProfile

	// WriteNotification receives each rendered notification body. last marks
	// a terminal notification.
	WriteNotification func(body string, last bool)

	// WriteEnd fires once when the stream should close its envelopes.
	WriteEnd func()
}

// Notification fans an event out to every subscriber bucket under Path.
// GenerateNotification is invoked once per bucket with the bucket's
// negotiated profile; an empty result suppresses delivery to that bucket.
type Notification struct {
	Path                 string
	GenerateNotification func(profile EventProfile) string
	LastEvent            bool
}

// Engine indexes active subscriptions by (path, profile) and multicasts
// notifications to every listener whose negotiated profile matches. Safe for
// concurrent use; fan-out holds the engine lock so subscribe and unsubscribe
// cannot race delivery.
type Engine struct {
	mu    sync.Mutex
	paths map[string]map[string]*emitter
	log   *slog.Logger
}

// emitter is the multicast bucket for one (path, profile) pair. The profile
// of the first subscriber is retained as the canonical instance.
type emitter struct {
	profile   EventProfile
	listeners []*listener
}

type listener struct {
	notify func(body string, last bool)
	end    func()
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger used to report listener failures.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine returns an empty subscription engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		paths: map[string]map[string]*emitter{},
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe attaches the subscription's callbacks to the emitter for its
// (path, profile) bucket, creating the bucket on first use. Profiles compare
// structurally, so subscribers with equal profiles share one emitter. The
// returned unsubscribe is idempotent; it prunes empty emitters and paths.
func (e *Engine) Subscribe(sub Subscription) (unsubscribe func()) {
	l := &listener{notify: sub.WriteNotification, end: sub.WriteEnd}
	key := profileKey(sub.Profile)

	e.mu.Lock()
	profiles, ok := e.paths[sub.Path]
	if !ok {
		profiles = map[string]*emitter{}
		e.paths[sub.Path] = profiles
	}
	em, ok := profiles[key]
	if !ok {
		em = &emitter{profile: sub.Profile.Clone()}
		profiles[key] = em
	}
	em.listeners = append(em.listeners, l)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			profiles, ok := e.paths[sub.Path]
			if !ok {
				return
			}
			em, ok := profiles[key]
			if !ok {
				return
			}
			for n, existing := range em.listeners {
				if existing == l {
					em.listeners = append(em.listeners[:n], em.listeners[n+1:]...)
					break
				}
			}
			if len(em.listeners) == 0 {
				delete(profiles, key)
			}
			if len(profiles) == 0 {
				delete(e.paths, sub.Path)
			}
		})
	}
}

// Notify delivers an event to every bucket under the path. A path with no
// subscribers is not an error. Listeners are invoked in registration order
// over a snapshot while the engine lock is held; an unsubscribe issued during
// delivery (from another goroutine) waits until Notify returns. A failing
// listener never prevents the others from running. When LastEvent is set, every listener's end callback fires and the
// path is dropped from the index.
func (e *Engine) Notify(n Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()

	profiles, ok := e.paths[n.Path]
	if !ok {
		return
	}

	for _, em := range profiles {
		body := e.generate(n, em.profile)
		if body == "" {
			continue
		}
		for _, l := range snapshot(em.listeners) {
			e.deliver(n.Path, func() { l.notify(body, n.LastEvent) })
		}
	}

	if n.LastEvent {
		for _, em := range profiles {
			for _, l := range snapshot(em.listeners) {
				e.deliver(n.Path, l.end)
			}
		}
		delete(e.paths, n.Path)
	}
}

func (e *Engine) generate(n Notification, profile EventProfile) (body string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("notify.generate.panic", slog.String("path", n.Path), slog.Any("panic", r))
			body = ""
		}
	}()
	if n.GenerateNotification == nil {
		return ""
	}
	return n.GenerateNotification(profile.Clone())
}

func (e *Engine) deliver(path string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("notify.listener.panic", slog.String("path", path), slog.Any("panic", r))
		}
	}()
	fn()
}

func snapshot(listeners []*listener) []*listener {
	out := make([]*listener, len(listeners))
	copy(out, listeners)
	return out
}

// subscriberCount reports the number of listeners under (path, key); used by
// invariant checks.
func (e *Engine) subscriberCount(path string, profile EventProfile) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	profiles, ok := e.paths[path]
	if !ok {
		return 0
	}
	em, ok := profiles[profileKey(profile)]
	if !ok {
		return 0
	}
	return len(em.listeners)
}
