package prep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prephttp/prep/internal/logctx"
	"github.com/prephttp/prep/sfv"
)

var (
	_ http.Handler = (*Handler)(nil)

	// ErrNilNext is returned by NewHandler when no wrapped handler is given.
	ErrNilNext = errors.New("prep: next handler is required")
)

const (
	acceptEventsHeader = "Accept-Events"
	lastEventIDHeader  = "Last-Event-ID"
	eventsHeader       = "Events"
	eventIDHeader      = "Event-ID"
	protocolName       = "prep"
)

type sessionKey struct{}

// Handler is the PREP middleware. It attaches a *Session to every request
// context before invoking the wrapped handler and, once the handler returns,
// drains the session's deferred notification triggers.
type Handler struct {
	next         http.Handler
	log          *slog.Logger
	cfg          Config
	engine       *Engine
	store        *EventIDStore
	quirkPadding bool
}

// NewHandler wraps next with the PREP middleware.
func NewHandler(next http.Handler, opts ...Option) (*Handler, error) {
	if next == nil {
		return nil, ErrNilNext
	}

	cfg := newConfig{quirkPadding: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.logger != nil {
		logger = cfg.logger
	}
	logger = slog.New(logctx.Handler{Handler: logger.Handler()})

	conf := ConfigFromEnv()
	if cfg.cfg != nil {
		conf = *cfg.cfg
	}

	engine := cfg.engine
	if engine == nil {
		engine = NewEngine(WithEngineLogger(logger))
	}

	store := cfg.store
	if store == nil {
		store = NewEventIDStore()
	}

	return &Handler{
		next:         next,
		log:          logger,
		cfg:          conf,
		engine:       engine,
		store:        store,
		quirkPadding: cfg.quirkPadding,
	}, nil
}

// Engine returns the subscription engine, allowing notifications to be
// triggered from outside a request (watchers, queues).
func (h *Handler) Engine() *Engine { return h.engine }

// EventIDs returns the last-event-ID store shared by this handler's sessions.
func (h *Handler) EventIDs() *EventIDStore { return h.store }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})

	sess := &Session{h: h, w: w, log: h.log}
	r = r.WithContext(context.WithValue(ctx, sessionKey{}, sess))
	sess.r = r

	h.next.ServeHTTP(w, r)
	sess.drainDeferred()
}

// SessionFrom returns the Session attached to the request context by the
// Handler, or nil when the request did not pass through it.
func SessionFrom(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionKey{}).(*Session)
	return sess
}

// Session is the per-request protocol surface. It is attached to the request
// context by the Handler and is valid until the wrapped handler returns (or,
// for streaming responses, until Send finishes).
type Session struct {
	h   *Handler
	w   http.ResponseWriter
	r   *http.Request
	log *slog.Logger

	mu       sync.Mutex
	offer    *sfv.Params
	deferred []func()

	acceptOnce   sync.Once
	acceptEvents sfv.List
}

// ConfigureOptions parameterize Configure. Config is the offer fragment, for
// example `accept=("message/rfc822";delta="text/plain")`. Empty means the
// handler-wide default accept list.
type ConfigureOptions struct {
	Config string
}

// Configure declares this resource's notification offer: it appends a
// `"prep";<config>` item to the Accept-Events response header and records the
// parsed offer for Send to negotiate against. On an unparseable offer it
// returns a `protocol=prep, status=500` dictionary for the caller to
// serialize into the Events header; on success it returns nil.
func (s *Session) Configure(opts ConfigureOptions) *sfv.Dict {
	fragment := opts.Config
	if fragment == "" {
		fragment = defaultOfferFragment(s.h.cfg.ContentTypes)
	}

	itemStr := fmt.Sprintf("%q;%s", protocolName, fragment)
	item, err := sfv.ParseItem(itemStr)
	if err != nil {
		s.log.ErrorContext(s.r.Context(), "prep.configure.parse.fail",
			slog.String("config", fragment), slog.String("err", err.Error()))
		return statusDict(http.StatusInternalServerError)
	}

	header := s.w.Header()
	if existing := header.Get(acceptEventsHeader); existing != "" {
		header.Set(acceptEventsHeader, existing+", "+itemStr)
	} else {
		header.Set(acceptEventsHeader, itemStr)
	}

	s.mu.Lock()
	s.offer = item.Params
	s.mu.Unlock()

	return nil
}

// Accepts reports whether the client's Accept-Events header names the prep
// protocol at all. Handlers use it to fall back to a plain response.
func (s *Session) Accepts() bool {
	return s.prepParams() != nil
}

// SetEventID assigns a fresh last-event identifier to path (the request path
// when empty) and returns it.
func (s *Session) SetEventID(path string) string {
	if path == "" {
		path = s.r.URL.Path
	}
	return s.h.store.Set(path)
}

// LastEventID returns the identifier last assigned to path (the request path
// when empty), or "".
func (s *Session) LastEventID(path string) string {
	if path == "" {
		path = s.r.URL.Path
	}
	return s.h.store.Last(path)
}

// TriggerOptions parameterize Trigger. Zero values select the defaults: the
// request path, DefaultNotification with no overrides, and a terminal event
// iff the request is a DELETE of its own path.
type TriggerOptions struct {
	Path                 string
	GenerateNotification func(profile EventProfile) string
	LastEvent            *bool
}

// Trigger schedules a notification for every subscriber of the path. The
// notification fans out only after the wrapped handler has returned, so the
// triggering handler's own response completes first. Trigger never blocks.
func (s *Session) Trigger(opts TriggerOptions) {
	path := opts.Path
	if path == "" {
		path = s.r.URL.Path
	}

	generate := opts.GenerateNotification
	if generate == nil {
		generate = func(EventProfile) string {
			return s.DefaultNotification(NotificationOptions{})
		}
	}

	lastEvent := path == s.r.URL.Path && s.r.Method == http.MethodDelete
	if opts.LastEvent != nil {
		lastEvent = *opts.LastEvent
	}

	engine := s.h.engine
	log := s.log
	ctx := s.r.Context()

	s.mu.Lock()
	s.deferred = append(s.deferred, func() {
		log.DebugContext(ctx, "prep.trigger.notify",
			slog.String("path", path), slog.Bool("last_event", lastEvent))
		engine.Notify(Notification{
			Path:                 path,
			GenerateNotification: generate,
			LastEvent:            lastEvent,
		})
	})
	s.mu.Unlock()
}

// DefaultNotification renders a notification body from the response state:
// the request method, the response Date header (now when unset), and the
// Event-ID and Content-Location response headers. Explicit options override.
func (s *Session) DefaultNotification(opts NotificationOptions) string {
	if opts.Method == "" {
		opts.Method = s.r.Method
	}
	if opts.Date == "" {
		opts.Date = s.w.Header().Get("Date")
		if opts.Date == "" {
			opts.Date = time.Now().UTC().Format(http.TimeFormat)
		}
	}
	if opts.EventID == "" {
		opts.EventID = s.w.Header().Get(eventIDHeader)
	}
	if opts.ETag == "" {
		opts.ETag = s.w.Header().Get("ETag")
	}
	if opts.Location == "" {
		opts.Location = s.w.Header().Get("Content-Location")
	}
	return RenderNotification(opts)
}

func (s *Session) drainDeferred() {
	s.mu.Lock()
	deferred := s.deferred
	s.deferred = nil
	s.mu.Unlock()
	for _, fn := range deferred {
		fn()
	}
}

// prepParams returns the parameters of the request's prep Accept-Events item,
// or nil when the client did not ask for prep events.
func (s *Session) prepParams() *sfv.Params {
	s.acceptOnce.Do(func() {
		header := s.r.Header.Get(acceptEventsHeader)
		if header == "" {
			return
		}
		list, err := sfv.ParseList(header)
		if err != nil {
			s.log.WarnContext(s.r.Context(), "prep.accept_events.parse.fail",
				slog.String("err", err.Error()))
			return
		}
		s.acceptEvents = list
	})
	for _, item := range s.acceptEvents {
		if strings.EqualFold(item.Bare(), protocolName) {
			params := item.Params
			if params == nil {
				params = sfv.NewParams()
			}
			return params
		}
	}
	return nil
}

func statusDict(status int) *sfv.Dict {
	d := sfv.NewDict()
	d.Add("protocol", sfv.Token(protocolName))
	d.Add("status", int64(status))
	return d
}

// defaultOfferFragment renders `accept=("a" "b")` from a comma-separated
// content-type list.
func defaultOfferFragment(contentTypes string) string {
	var b strings.Builder
	b.WriteString("accept=(")
	n := 0
	for _, ct := range strings.Split(contentTypes, ",") {
		ct = strings.TrimSpace(ct)
		if ct == "" {
			continue
		}
		if n > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%q", ct)
		n++
	}
	b.WriteString(")")
	return b.String()
}
