// Package sfv adapts HTTP structured field values (RFC 8941) for the PREP
// event-negotiation headers. Parsing and serialization of the base syntax is
// delegated to github.com/dunglas/httpsfv; on top of that the package supports
// the PREP extension of parameters whose value is itself a parenthesised inner
// list (for example accept=("message/rfc822";delta="text/plain")), which the
// base RFC forbids. Such parameters are surfaced as []Item parameter values.
package sfv

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dunglas/httpsfv"
)

// Token is a structured-field token bare value. Anything else string-like is
// treated as a quoted string on the wire.
type Token = httpsfv.Token

// Item is a structured-field item: a bare value, an ordered parameter map and
// an optional second parameter map. Value holds a Token, string, int64,
// float64 or bool. Params values may additionally be []Item for inner-list
// valued parameters. Extra carries parameter alternatives that were not
// settled by negotiation; it never survives canonicalization.
type Item struct {
	Value  any
	Params *Params
	Extra  *Params
}

// List is an ordered sequence of items. Duplicate bare values are permitted.
type List []Item

// NewItem returns an item with an empty parameter map.
func NewItem(value any) Item {
	return Item{Value: value, Params: NewParams()}
}

// Bare returns the string form of the item's bare value.
func (i Item) Bare() string {
	return bareString(i.Value)
}

// Clone returns a deep copy of the item.
func (i Item) Clone() Item {
	return Item{Value: i.Value, Params: i.Params.Clone(), Extra: i.Extra.Clone()}
}

// Equal reports structural equality: bare values compare case-insensitively,
// parameters compare by name without regard to order, and inner-list values
// compare element-wise. Both Params and Extra participate.
func (i Item) Equal(o Item) bool {
	if !strings.EqualFold(i.Bare(), o.Bare()) {
		return false
	}
	return i.Params.equal(o.Params) && i.Extra.equal(o.Extra)
}

// String renders the item in wire form, including any inner-list parameters.
func (i Item) String() string {
	var b strings.Builder
	i.marshalTo(&b)
	return b.String()
}

// Canonical renders a normalized form of the item suitable for use as a map
// key: the bare value and all parameter names and string values lowercased,
// parameters sorted by name, Extra omitted.
func (i Item) Canonical() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(i.Bare()))
	names := i.Params.Names()
	sort.Strings(names)
	for _, name := range names {
		v, _ := i.Params.Get(name)
		b.WriteByte(';')
		b.WriteString(strings.ToLower(name))
		b.WriteByte('=')
		if items, ok := v.([]Item); ok {
			b.WriteByte('(')
			for n, it := range items {
				if n > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(it.Canonical())
			}
			b.WriteByte(')')
		} else {
			b.WriteString(strings.ToLower(bareString(v)))
		}
	}
	return b.String()
}

func (i Item) marshalTo(b *strings.Builder) {
	writeBare(b, i.Value)
	i.Params.marshalTo(b)
}

// String renders the list in wire form, members comma-separated.
func (l List) String() string {
	var b strings.Builder
	for n, it := range l {
		if n > 0 {
			b.WriteString(", ")
		}
		it.marshalTo(&b)
	}
	return b.String()
}

// Params is an insertion-ordered parameter map. Values follow the same rules
// as Item.Value, plus []Item for inner-list valued parameters. The zero value
// of *Params (nil) is a valid empty map for reads.
type Params struct {
	names []string
	vals  map[string]any
}

// NewParams returns an empty parameter map.
func NewParams() *Params {
	return &Params{vals: map[string]any{}}
}

// Add sets a parameter, keeping the original position when the name already
// exists.
func (p *Params) Add(name string, v any) {
	if _, ok := p.vals[name]; !ok {
		p.names = append(p.names, name)
	}
	p.vals[name] = v
}

// Get returns the value for name.
func (p *Params) Get(name string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.vals[name]
	return v, ok
}

// Del removes a parameter if present.
func (p *Params) Del(name string) {
	if p == nil {
		return
	}
	if _, ok := p.vals[name]; !ok {
		return
	}
	delete(p.vals, name)
	for n, existing := range p.names {
		if existing == name {
			p.names = append(p.names[:n], p.names[n+1:]...)
			break
		}
	}
}

// Names returns the parameter names in insertion order.
func (p *Params) Names() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.names)
}

// Clone returns a deep copy, or nil for nil.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	out := NewParams()
	for _, name := range p.names {
		v := p.vals[name]
		if items, ok := v.([]Item); ok {
			cp := make([]Item, len(items))
			for n, it := range items {
				cp[n] = it.Clone()
			}
			out.Add(name, cp)
		} else {
			out.Add(name, v)
		}
	}
	return out
}

func (p *Params) equal(o *Params) bool {
	if p.Len() != o.Len() {
		return false
	}
	for _, name := range p.Names() {
		pv, _ := p.Get(name)
		ov, ok := o.Get(name)
		if !ok || !valueEqual(pv, ov) {
			return false
		}
	}
	return true
}

func (p *Params) marshalTo(b *strings.Builder) {
	for _, name := range p.Names() {
		v, _ := p.Get(name)
		b.WriteByte(';')
		b.WriteString(name)
		if bv, ok := v.(bool); ok && bv {
			continue
		}
		b.WriteByte('=')
		if items, ok := v.([]Item); ok {
			b.WriteByte('(')
			for n, it := range items {
				if n > 0 {
					b.WriteByte(' ')
				}
				it.marshalTo(b)
			}
			b.WriteByte(')')
		} else {
			writeBare(b, v)
		}
	}
}

func valueEqual(a, b any) bool {
	ai, aok := a.([]Item)
	bi, bok := b.([]Item)
	if aok != bok {
		return false
	}
	if aok {
		if len(ai) != len(bi) {
			return false
		}
		for n := range ai {
			if !ai[n].Equal(bi[n]) {
				return false
			}
		}
		return true
	}
	switch av := a.(type) {
	case Token:
		return strings.EqualFold(string(av), bareString(b))
	case string:
		return strings.EqualFold(av, bareString(b))
	default:
		return a == b
	}
}

func bareString(v any) string {
	switch bv := v.(type) {
	case nil:
		return ""
	case Token:
		return string(bv)
	case string:
		return bv
	case int64:
		return strconv.FormatInt(bv, 10)
	case int:
		return strconv.Itoa(bv)
	case float64:
		return strconv.FormatFloat(bv, 'f', -1, 64)
	case bool:
		if bv {
			return "?1"
		}
		return "?0"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func writeBare(b *strings.Builder, v any) {
	switch bv := v.(type) {
	case Token:
		b.WriteString(string(bv))
	case string:
		b.WriteString(quoteString(bv))
	case bool:
		if bv {
			b.WriteString("?1")
		} else {
			b.WriteString("?0")
		}
	default:
		b.WriteString(bareString(v))
	}
}

func quoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
