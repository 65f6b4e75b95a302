package prep

import (
	"strings"
)

const crlf = "\r\n"

// NotificationOptions are the fields of a message/rfc822 notification body.
// Zero-valued optional fields are omitted from the rendered message.
type NotificationOptions struct {
	Method   string
	Date     string
	ETag     string
	EventID  string
	Location string
	Delta    string
}

// RenderNotification renders a notification body ready to hand to the
// subscription engine: a leading CRLF followed by the rfc822 message. The
// delta body is included only for write verbs (PUT, PATCH, POST).
func RenderNotification(opts NotificationOptions) string {
	return crlf + renderRFC822(opts)
}

// renderRFC822 produces the rfc822 header block, a blank line, and the delta
// body when the verb is a write and a delta was supplied.
func renderRFC822(opts NotificationOptions) string {
	var b strings.Builder
	b.WriteString("Method: " + opts.Method + crlf)
	b.WriteString("Date: " + opts.Date + crlf)
	if opts.EventID != "" {
		b.WriteString("Event-ID: " + opts.EventID + crlf)
	}
	if opts.ETag != "" {
		b.WriteString("ETag: " + opts.ETag + crlf)
	}
	if opts.Location != "" {
		b.WriteString("Location: " + opts.Location + crlf)
	}
	b.WriteString(crlf)
	if opts.Delta != "" && strings.HasPrefix(opts.Method, "P") {
		b.WriteString(opts.Delta)
	}
	return b.String()
}

// renderPartHeader writes one "Train-Case-Name: value" line per content-*
// profile entry, skipping the implicit content-type of digest parts
// (message/rfc822).
func renderPartHeader(profile EventProfile) string {
	var b strings.Builder
	for _, name := range profileNames(profile) {
		if !strings.HasPrefix(name, "content-") {
			continue
		}
		item := profile[name]
		value := strings.ToLower(item.Bare())
		if name == "content-type" && value == "message/rfc822" {
			continue
		}
		b.WriteString(trainCase(name) + ": " + value + crlf)
	}
	return b.String()
}

// trainCase capitalizes each dash-separated segment: content-type becomes
// Content-Type.
func trainCase(s string) string {
	segments := strings.Split(s, "-")
	for n, segment := range segments {
		if segment == "" {
			continue
		}
		segments[n] = strings.ToUpper(segment[:1]) + segment[1:]
	}
	return strings.Join(segments, "-")
}
