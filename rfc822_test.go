package prep

import (
	"strings"
	"testing"

	"github.com/prephttp/prep/sfv"
)

func TestRenderRFC822AllFields(t *testing.T) {
	got := renderRFC822(NotificationOptions{
		Method:   "PATCH",
		Date:     "Mon, 02 Jan 2006 15:04:05 GMT",
		EventID:  "abc123",
		ETag:     `"v2"`,
		Location: "/doc",
		Delta:    "hello",
	})
	want := "Method: PATCH\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 GMT\r\n" +
		"Event-ID: abc123\r\n" +
		"ETag: \"v2\"\r\n" +
		"Location: /doc\r\n" +
		"\r\n" +
		"hello"
	if got != want {
		t.Errorf("unexpected rendering:\n%q\nwant:\n%q", got, want)
	}
}

func TestRenderRFC822OmitsAbsentFields(t *testing.T) {
	got := renderRFC822(NotificationOptions{
		Method: "PATCH",
		Date:   "Mon, 02 Jan 2006 15:04:05 GMT",
	})
	want := "Method: PATCH\r\nDate: Mon, 02 Jan 2006 15:04:05 GMT\r\n\r\n"
	if got != want {
		t.Errorf("unexpected rendering: %q", got)
	}
}

func TestRenderRFC822DeltaOnlyForWrites(t *testing.T) {
	read := renderRFC822(NotificationOptions{
		Method: "DELETE",
		Date:   "Mon, 02 Jan 2006 15:04:05 GMT",
		Delta:  "ignored",
	})
	if strings.Contains(read, "ignored") {
		t.Error("delta must be omitted for non-write verbs")
	}

	write := renderRFC822(NotificationOptions{
		Method: "PUT",
		Date:   "Mon, 02 Jan 2006 15:04:05 GMT",
		Delta:  "kept",
	})
	if !strings.HasSuffix(write, "\r\nkept") {
		t.Errorf("delta must follow the blank line for writes: %q", write)
	}
}

func TestRenderNotificationPrefix(t *testing.T) {
	got := RenderNotification(NotificationOptions{Method: "PUT", Date: "now"})
	if !strings.HasPrefix(got, "\r\nMethod: PUT\r\n") {
		t.Errorf("notification must start with CRLF: %q", got)
	}
}

func TestRenderPartHeader(t *testing.T) {
	item, err := sfv.ParseItem(`"text/plain"`)
	if err != nil {
		t.Fatal(err)
	}
	profile := EventProfile{
		"content-type":     item,
		"content-language": sfv.NewItem(sfv.Token("en")),
		"x-custom":         sfv.NewItem(sfv.Token("skipped")),
	}
	got := renderPartHeader(profile)
	if !strings.Contains(got, "Content-Type: text/plain\r\n") {
		t.Errorf("missing content-type line: %q", got)
	}
	if !strings.Contains(got, "Content-Language: en\r\n") {
		t.Errorf("missing content-language line: %q", got)
	}
	if strings.Contains(got, "skipped") {
		t.Errorf("non content-* entries must be skipped: %q", got)
	}
}

func TestRenderPartHeaderImplicitDigestType(t *testing.T) {
	item, err := sfv.ParseItem(`"message/rfc822"`)
	if err != nil {
		t.Fatal(err)
	}
	got := renderPartHeader(EventProfile{"content-type": item})
	if got != "" {
		t.Errorf("message/rfc822 is implicit and must not be rendered: %q", got)
	}
}

func TestTrainCase(t *testing.T) {
	cases := map[string]string{
		"content-type":     "Content-Type",
		"content-language": "Content-Language",
		"x":                "X",
	}
	for in, want := range cases {
		if got := trainCase(in); got != want {
			t.Errorf("trainCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEventIDStore(t *testing.T) {
	s := NewEventIDStore()
	if got := s.Last("/doc"); got != "" {
		t.Errorf("expected empty id for unknown path, got %q", got)
	}

	id := s.Set("/doc")
	if len(id) != eventIDLength {
		t.Errorf("unexpected id length: %q", id)
	}
	for _, c := range id {
		if !strings.ContainsRune(eventIDAlphabet, c) {
			t.Errorf("id %q contains %q outside the alphabet", id, c)
		}
	}
	if got := s.Last("/doc"); got != id {
		t.Errorf("Last returned %q, want %q", got, id)
	}

	next := s.Set("/doc")
	if got := s.Last("/doc"); got != next {
		t.Errorf("Last should track the most recent id: %q vs %q", got, next)
	}
	if got := s.Last("/other"); got != "" {
		t.Errorf("paths are independent, got %q", got)
	}
}
