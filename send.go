package prep

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prephttp/prep/sfv"
)

// sendStatuses are the response statuses eligible for a notification stream.
var sendStatuses = map[int]struct{}{
	http.StatusOK:             {},
	http.StatusNoContent:      {},
	http.StatusPartialContent: {},
	http.StatusIMUsed:         {},
}

const (
	boundaryBytes = 15 // 20 characters of URL-safe base64

	// notifyBuffer bounds how far a slow connection may fall behind before
	// notifications are dropped for it.
	notifyBuffer = 32

	// quirkPaddingCount is the number of CRLF pairs written after each
	// notification for user agents whose buffering would otherwise withhold
	// delivered events from the page.
	quirkPaddingCount = 240
)

// SendOptions parameterize Send.
type SendOptions struct {
	// Status is the response status the handler intends; zero means 200. It
	// must be one of 200, 204, 206 or 226 for a stream to start.
	Status int

	// Headers are written as the representation part's headers.
	Headers map[string]string

	// Body is the in-memory representation. BodyStream, when set, takes
	// precedence and is copied through without buffering.
	Body       []byte
	BodyStream io.Reader

	// Params overrides the parameters of the request's prep Accept-Events
	// item. Nil means use the parsed request header.
	Params *sfv.Params

	// NegotiateEvents lets the application adjust the negotiated profile; it
	// may return nil to force a 406. Nil means identity.
	NegotiateEvents func(profile EventProfile) EventProfile

	// ModifyEventsHeader contributes additional members to the Events
	// response header from the final negotiated profile.
	ModifyEventsHeader func(profile EventProfile) *sfv.Dict
}

// Send negotiates the event stream and, on success, takes over the response:
// it writes the multipart envelope, the representation part, and then keeps
// the connection open, writing notifications as they arrive until the
// connection closes, the duration elapses or a terminal event fires. Send
// blocks for the lifetime of the stream and returns nil.
//
// When the response is ineligible or negotiation fails, Send writes nothing
// and returns an Events dictionary (protocol and status members) for the
// caller to serialize into the Events response header of its ordinary
// response.
func (s *Session) Send(opts SendOptions) *sfv.Dict {
	ctx := s.r.Context()

	status := opts.Status
	if status == 0 {
		status = http.StatusOK
	}
	if _, ok := sendStatuses[status]; !ok {
		return statusDict(http.StatusPreconditionFailed)
	}

	s.mu.Lock()
	offer := s.offer
	s.mu.Unlock()
	if offer == nil {
		s.log.ErrorContext(ctx, "prep.send.unconfigured")
		return statusDict(http.StatusInternalServerError)
	}
	if _, ok := offer.Get("accept"); !ok {
		s.log.ErrorContext(ctx, "prep.send.offer.no_accept")
		return statusDict(http.StatusInternalServerError)
	}

	params := opts.Params
	if params == nil {
		params = s.prepParams()
	}
	if params == nil {
		params = sfv.NewParams()
	}
	params = params.Clone()
	// Quality is a request-side concern and never part of the profile.
	params.Del("q")

	negotiated := negotiateContent(params, offer)
	if hook := opts.NegotiateEvents; hook != nil && negotiated != nil {
		negotiated = hook(negotiated.Clone())
	}
	if negotiated == nil {
		return statusDict(http.StatusNotAcceptable)
	}
	negotiated = cleanup(negotiated)

	header := s.w.Header()
	addVary(header, acceptEventsHeader)

	duration := s.h.cfg.defaultDuration()
	if v, ok := params.Get("duration"); ok {
		if seconds, ok := v.(int64); ok && seconds > 0 {
			if requested := time.Duration(seconds) * time.Second; requested <= s.h.cfg.maxDuration() {
				duration = requested
			}
		}
	}

	ev := sfv.NewDict()
	ev.Add("protocol", sfv.Token(protocolName))
	ev.Add("status", int64(http.StatusOK))
	ev.Add("expires", time.Now().UTC().Add(duration).Format(http.TimeFormat))

	rc := http.NewResponseController(s.w)
	// The stream outlives any server-wide timeouts: no read deadline, write
	// deadline one second past the negotiated duration.
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Now().Add(duration + time.Second))

	hasBody := opts.BodyStream != nil || opts.Body != nil
	reqLastEventID := s.r.Header.Get(lastEventIDHeader)
	if reqLastEventID != "" {
		addVary(header, lastEventIDHeader)
	}
	skipBody := hasBody && reqLastEventID != "" &&
		(reqLastEventID == "*" || reqLastEventID == s.h.store.Last(s.r.URL.Path))

	mixedBoundary := randomBoundary()
	digestBoundary := randomBoundary()
	digestOnly := skipBody || !hasBody

	if digestOnly {
		header.Set("Content-Type", `multipart/digest; boundary="`+digestBoundary+`"`)
	} else {
		header.Set("Content-Type", `multipart/mixed; boundary="`+mixedBoundary+`"`)
	}

	if hook := opts.ModifyEventsHeader; hook != nil {
		ev.Merge(hook(negotiated.Clone()))
	}
	events, err := ev.Marshal()
	if err != nil {
		s.log.ErrorContext(ctx, "prep.send.events.marshal.fail", slog.String("err", err.Error()))
		return statusDict(http.StatusInternalServerError)
	}
	header.Set(eventsHeader, events)

	s.w.WriteHeader(status)

	stream := &eventStream{
		s:              s,
		rc:             rc,
		mixedBoundary:  mixedBoundary,
		digestBoundary: digestBoundary,
		digestOnly:     digestOnly,
		partHeader:     renderPartHeader(negotiated),
		quirky:         s.h.quirkPadding && isQuirky(s.r.UserAgent()),
	}

	if !digestOnly {
		if err := stream.writeRepresentation(opts); err != nil {
			s.log.WarnContext(ctx, "prep.send.representation.fail", slog.String("err", err.Error()))
			return nil
		}
	}
	if err := stream.writeDigestPrologue(); err != nil {
		s.log.WarnContext(ctx, "prep.send.prologue.fail", slog.String("err", err.Error()))
		return nil
	}

	s.log.InfoContext(ctx, "prep.send.stream.start",
		slog.String("path", s.r.URL.Path), slog.Duration("duration", duration))
	stream.run(ctx, negotiated, duration)
	s.log.InfoContext(ctx, "prep.send.stream.end", slog.String("path", s.r.URL.Path))
	return nil
}

// eventStream is the per-connection write side of an open notification
// stream.
type eventStream struct {
	s              *Session
	rc             *http.ResponseController
	mixedBoundary  string
	digestBoundary string
	digestOnly     bool
	partHeader     string
	quirky         bool
	digestClosed   bool
}

type notificationFrame struct {
	body string
	last bool
}

func (st *eventStream) write(data string) error {
	if _, err := io.WriteString(st.s.w, data); err != nil {
		return err
	}
	return st.rc.Flush()
}

func (st *eventStream) writeRepresentation(opts SendOptions) error {
	var b strings.Builder
	b.WriteString("--" + st.mixedBoundary + crlf)
	names := make([]string, 0, len(opts.Headers))
	for name := range opts.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(name + ": " + opts.Headers[name] + crlf)
	}
	b.WriteString(crlf)
	if err := st.write(b.String()); err != nil {
		return err
	}
	if opts.BodyStream != nil {
		if _, err := io.Copy(st.s.w, opts.BodyStream); err != nil {
			return err
		}
		return st.rc.Flush()
	}
	if _, err := st.s.w.Write(opts.Body); err != nil {
		return err
	}
	return st.rc.Flush()
}

func (st *eventStream) writeDigestPrologue() error {
	var b strings.Builder
	if !st.digestOnly {
		b.WriteString(crlf + "--" + st.mixedBoundary + crlf)
		b.WriteString(`Content-Type: multipart/digest; boundary="` + st.digestBoundary + `"` + crlf)
		b.WriteString(crlf)
	}
	b.WriteString("--" + st.digestBoundary + crlf)
	return st.write(b.String())
}

func (st *eventStream) writeNotification(f notificationFrame) error {
	var b strings.Builder
	b.WriteString(crlf)
	// Per-part headers: empty for the implicit message/rfc822 digest parts.
	b.WriteString(st.partHeader)
	b.WriteString(f.body)
	if st.quirky {
		b.WriteString(strings.Repeat(crlf, quirkPaddingCount))
	}
	if f.last {
		b.WriteString(crlf + "--" + st.digestBoundary + "--")
		st.digestClosed = true
	} else {
		b.WriteString(crlf + "--" + st.digestBoundary + crlf)
	}
	return st.write(b.String())
}

// writeClose emits whatever terminal boundaries are still owed and ends the
// envelope.
func (st *eventStream) writeClose() {
	var b strings.Builder
	if !st.digestClosed {
		b.WriteString(crlf + "--" + st.digestBoundary + "--")
		st.digestClosed = true
	}
	if st.digestOnly {
		b.WriteString(crlf)
	} else {
		b.WriteString(crlf + "--" + st.mixedBoundary + "--" + crlf)
	}
	_ = st.write(b.String())
}

// run subscribes the connection and pumps notifications to the socket until
// one of the three cancellation sources fires: client disconnect, duration
// timeout, or a terminal event. Exactly one of those paths runs, and the
// subscription is released exactly once.
func (st *eventStream) run(ctx context.Context, profile EventProfile, duration time.Duration) {
	frames := make(chan notificationFrame, notifyBuffer)
	ended := make(chan struct{})
	var endOnce sync.Once

	unsubscribe := st.s.h.engine.Subscribe(Subscription{
		Path:    st.s.r.URL.Path,
		Profile: profile,
		WriteNotification: func(body string, last bool) {
			select {
			case frames <- notificationFrame{body: body, last: last}:
			default:
				// Connection too far behind; drop rather than stall fan-out.
				st.s.log.Warn("prep.send.notify.drop", slog.String("path", st.s.r.URL.Path))
			}
		},
		WriteEnd: func() {
			endOnce.Do(func() { close(ended) })
		},
	})

	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(unsubscribe) }
	defer release()

	timer := time.NewTimer(duration)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Disconnected: socket close, response finish or request abort.
			return
		case <-timer.C:
			release()
			st.writeClose()
			return
		case f := <-frames:
			if err := st.writeNotification(f); err != nil {
				return
			}
		case <-ended:
			for drained := false; !drained; {
				select {
				case f := <-frames:
					if err := st.writeNotification(f); err != nil {
						return
					}
				default:
					drained = true
				}
			}
			release()
			st.writeClose()
			return
		}
	}
}

// isQuirky reports whether the user agent needs buffer-defeating padding.
func isQuirky(userAgent string) bool {
	return strings.Contains(strings.ToLower(userAgent), "firefox")
}

func addVary(header http.Header, value string) {
	for _, existing := range header.Values("Vary") {
		if strings.EqualFold(existing, value) {
			return
		}
	}
	header.Add("Vary", value)
}

func randomBoundary() string {
	buf := make([]byte, boundaryBytes)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
