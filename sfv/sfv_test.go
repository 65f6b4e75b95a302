package sfv

import (
	"testing"
)

func TestParseListSimple(t *testing.T) {
	list, err := ParseList(`"prep", "other";q=0.5`)
	if err != nil {
		t.Fatalf("ParseList failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 items, got %d", len(list))
	}
	if got := list[0].Bare(); got != "prep" {
		t.Errorf("unexpected first bare value: %q", got)
	}
	if q, ok := list[1].Params.Get("q"); !ok || q.(float64) != 0.5 {
		t.Errorf("unexpected q parameter: %v (%v)", q, ok)
	}
}

func TestParseListNestedParameter(t *testing.T) {
	list, err := ParseList(`"prep";accept=("message/rfc822";delta="text/plain");duration=600`)
	if err != nil {
		t.Fatalf("ParseList failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 item, got %d", len(list))
	}
	item := list[0]
	if item.Bare() != "prep" {
		t.Errorf("unexpected bare value: %q", item.Bare())
	}

	v, ok := item.Params.Get("accept")
	if !ok {
		t.Fatal("accept parameter missing")
	}
	accept, ok := v.([]Item)
	if !ok {
		t.Fatalf("accept is not an inner list: %T", v)
	}
	if len(accept) != 1 || accept[0].Bare() != "message/rfc822" {
		t.Fatalf("unexpected accept items: %v", accept)
	}
	if delta, ok := accept[0].Params.Get("delta"); !ok || delta.(string) != "text/plain" {
		t.Errorf("unexpected delta: %v (%v)", delta, ok)
	}

	if d, ok := item.Params.Get("duration"); !ok || d.(int64) != 600 {
		t.Errorf("unexpected duration: %v (%v)", d, ok)
	}
}

func TestParseListDoublyNestedParameter(t *testing.T) {
	list, err := ParseList(`"prep";accept=("message/rfc822";delta=("text/plain" "text/diff"))`)
	if err != nil {
		t.Fatalf("ParseList failed: %v", err)
	}
	accept, ok := list[0].Params.Get("accept")
	if !ok {
		t.Fatal("accept parameter missing")
	}
	items := accept.([]Item)
	if len(items) != 1 {
		t.Fatalf("expected 1 accept item, got %d", len(items))
	}
	delta, ok := items[0].Params.Get("delta")
	if !ok {
		t.Fatal("delta parameter missing")
	}
	deltas, ok := delta.([]Item)
	if !ok {
		t.Fatalf("delta is not an inner list: %T", delta)
	}
	if len(deltas) != 2 || deltas[0].Bare() != "text/plain" || deltas[1].Bare() != "text/diff" {
		t.Errorf("unexpected delta items: %v", deltas)
	}
}

func TestParseListParenInsideString(t *testing.T) {
	list, err := ParseList(`"a(b)";note="(not a list)"`)
	if err != nil {
		t.Fatalf("ParseList failed: %v", err)
	}
	if list[0].Bare() != "a(b)" {
		t.Errorf("unexpected bare value: %q", list[0].Bare())
	}
	if v, _ := list[0].Params.Get("note"); v.(string) != "(not a list)" {
		t.Errorf("unexpected note: %v", v)
	}
}

func TestParseListUnbalanced(t *testing.T) {
	if _, err := ParseList(`"prep";accept=("message/rfc822"`); err == nil {
		t.Fatal("expected an error for an unbalanced inner list")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	in := `"prep";accept=("message/rfc822";delta="text/plain");duration=600`
	list, err := ParseList(in)
	if err != nil {
		t.Fatalf("ParseList failed: %v", err)
	}
	out, err := ParseList(list.String())
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if len(out) != 1 || !out[0].Equal(list[0]) {
		t.Errorf("round trip changed the item: %q vs %q", list.String(), out.String())
	}
}

func TestItemEqual(t *testing.T) {
	a, err := ParseItem(`"Message/RFC822";delta="text/plain"`)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseItem(`"message/rfc822";delta="text/plain"`)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Error("case-insensitive bare values should compare equal")
	}

	c, err := ParseItem(`"message/rfc822";delta="text/diff"`)
	if err != nil {
		t.Fatal(err)
	}
	if a.Equal(c) {
		t.Error("differing parameter values should not compare equal")
	}
}

func TestCanonicalSortsParams(t *testing.T) {
	a, err := ParseItem(`tok;b=1;a=2`)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseItem(`TOK;a=2;b=1`)
	if err != nil {
		t.Fatal(err)
	}
	if a.Canonical() != b.Canonical() {
		t.Errorf("canonical forms differ: %q vs %q", a.Canonical(), b.Canonical())
	}
}

func TestDictRoundTrip(t *testing.T) {
	d := NewDict()
	d.Add("protocol", Token("prep"))
	d.Add("status", 200)
	d.Add("expires", "Mon, 02 Jan 2006 15:04:05 GMT")

	wire, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	parsed, err := ParseDict(wire)
	if err != nil {
		t.Fatalf("ParseDict failed: %v", err)
	}
	if v, _ := parsed.Get("protocol"); v.(Token) != Token("prep") {
		t.Errorf("unexpected protocol: %v", v)
	}
	if v, _ := parsed.Get("status"); v.(int64) != 200 {
		t.Errorf("unexpected status: %v", v)
	}
	if v, _ := parsed.Get("expires"); v.(string) != "Mon, 02 Jan 2006 15:04:05 GMT" {
		t.Errorf("unexpected expires: %v", v)
	}
}

func TestParamsDelKeepsOrder(t *testing.T) {
	p := NewParams()
	p.Add("a", int64(1))
	p.Add("q", 0.5)
	p.Add("b", int64(2))
	p.Del("q")
	names := p.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("unexpected names after Del: %v", names)
	}
}
