package prep

import (
	"sort"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/prephttp/prep/sfv"
)

// EventProfile is the canonical post-negotiation content specification that
// keys subscriptions. The only entry defined today is "content-type".
type EventProfile map[string]sfv.Item

// Clone returns a deep copy of the profile.
func (p EventProfile) Clone() EventProfile {
	if p == nil {
		return nil
	}
	out := make(EventProfile, len(p))
	for name, item := range p {
		out[name] = item.Clone()
	}
	return out
}

// Equal reports structural equality of two profiles.
func (p EventProfile) Equal(o EventProfile) bool {
	if len(p) != len(o) {
		return false
	}
	for name, item := range p {
		other, ok := o[name]
		if !ok || !item.Equal(other) {
			return false
		}
	}
	return true
}

func profileNames(p EventProfile) []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// profileKey renders the normalized canonical string used as the real
// subscription key for a cleaned-up profile.
func profileKey(p EventProfile) string {
	var b strings.Builder
	for n, name := range profileNames(p) {
		if n > 0 {
			b.WriteByte(',')
		}
		item := p[name]
		b.WriteString(strings.ToLower(name))
		b.WriteByte('=')
		b.WriteString(item.Canonical())
	}
	return b.String()
}

// matchItem compares a requested item against an allowed one. It reports no
// match when the bare values differ (case-insensitively). On a match, extra
// collects the requested parameters that are list-valued or differ from the
// allowed item; extra is nil when the two agree completely.
func matchItem(req, allowed sfv.Item) (matched bool, extra *sfv.Params) {
	if !strings.EqualFold(req.Bare(), allowed.Bare()) {
		return false, nil
	}
	return true, mismatchedParams(req, allowed)
}

// matchType is matchItem under media-type rules: the requested bare value may
// use */* and type/* wildcards.
func matchType(req, allowed sfv.Item) (matched bool, extra *sfv.Params) {
	if !mediaTypeMatches(req.Bare(), allowed.Bare()) {
		return false, nil
	}
	return true, mismatchedParams(req, allowed)
}

func mismatchedParams(req, allowed sfv.Item) *sfv.Params {
	extra := sfv.NewParams()
	for _, name := range req.Params.Names() {
		if name == "q" {
			continue
		}
		rv, _ := req.Params.Get(name)
		if items, ok := rv.([]sfv.Item); ok {
			extra.Add(name, items)
			continue
		}
		av, ok := allowed.Params.Get(name)
		if !ok || !sfv.NewItem(rv).Equal(sfv.NewItem(av)) {
			extra.Add(name, rv)
		}
	}
	if extra.Len() == 0 {
		return nil
	}
	return extra
}

// mediaTypeMatches applies the wildcard rules of media-range matching to a
// requested range and a concrete allowed type.
func mediaTypeMatches(req, allowed string) bool {
	rt := contenttype.NewMediaType(strings.ToLower(req))
	at := contenttype.NewMediaType(strings.ToLower(allowed))
	if rt.Type == "" || at.Type == "" {
		return false
	}
	if rt.Type == "*" {
		return true
	}
	if rt.Type != at.Type {
		return false
	}
	return rt.Subtype == "*" || rt.Subtype == at.Subtype
}

// sortByQ orders requested items by media-range specificity descending, then
// quality descending, then insertion order.
func sortByQ(requested sfv.List) sfv.List {
	out := make(sfv.List, len(requested))
	copy(out, requested)
	sort.SliceStable(out, func(a, b int) bool {
		sa, sb := specificity(out[a]), specificity(out[b])
		if sa != sb {
			return sa > sb
		}
		return quality(out[a]) > quality(out[b])
	})
	return out
}

func specificity(item sfv.Item) int {
	bare := strings.ToLower(item.Bare())
	switch {
	case bare == "*/*":
		return 0
	case strings.HasSuffix(bare, "/*"):
		return 1
	default:
		return 2
	}
}

func quality(item sfv.Item) float64 {
	v, ok := item.Params.Get("q")
	if !ok {
		return 1
	}
	switch q := v.(type) {
	case float64:
		return q
	case int64:
		return float64(q)
	default:
		return 1
	}
}

// negotiateList returns every allowed item for which some requested item
// matches. Matched items keep their own parameters and gain the request's
// extra parameters when the match was partial.
func negotiateList(requested, allowed sfv.List) sfv.List {
	ordered := sortByQ(requested)
	var out sfv.List
	for _, al := range allowed {
		for _, req := range ordered {
			if ok, extra := matchItem(req, al); ok {
				item := al.Clone()
				item.Extra = extra
				out = append(out, item)
				break
			}
		}
	}
	return out
}

// negotiateItem returns the first allowed item matched by the quality-ordered
// request, or nil. A partial match carries the request's mismatched
// parameters as the item's Extra.
func negotiateItem(requested, allowed sfv.List) *sfv.Item {
	return negotiateFirst(requested, allowed, matchItem)
}

// negotiateType is negotiateItem under media-type rules.
func negotiateType(requested, allowed sfv.List) *sfv.Item {
	return negotiateFirst(requested, allowed, matchType)
}

func negotiateFirst(requested, allowed sfv.List, match func(req, allowed sfv.Item) (bool, *sfv.Params)) *sfv.Item {
	for _, req := range sortByQ(requested) {
		for _, al := range allowed {
			if ok, extra := match(req, al); ok {
				item := al.Clone()
				item.Extra = extra
				return &item
			}
		}
	}
	return nil
}

// negotiateContent matches the request's accept field against the allowed
// offer. A request without accept defaults to */*. Returns nil when no media
// type overlaps.
func negotiateContent(request, allowed *sfv.Params) EventProfile {
	requested := itemList(request, "accept")
	if len(requested) == 0 {
		requested = sfv.List{sfv.NewItem(sfv.Token("*/*"))}
	}
	item := negotiateType(requested, itemList(allowed, "accept"))
	if item == nil {
		return nil
	}
	return EventProfile{"content-type": *item}
}

// cleanup strips Extra from every item and canonicalizes parameter names,
// producing the only profile form that may key a subscription. Idempotent.
func cleanup(p EventProfile) EventProfile {
	if p == nil {
		return nil
	}
	out := make(EventProfile, len(p))
	for name, item := range p {
		clean := item.Clone()
		clean.Extra = nil
		canonical := sfv.NewParams()
		for _, pn := range clean.Params.Names() {
			v, _ := clean.Params.Get(pn)
			canonical.Add(strings.ToLower(pn), v)
		}
		clean.Params = canonical
		out[strings.ToLower(name)] = clean
	}
	return out
}

// itemList reads a field as a list of items, accepting both inner-list valued
// and scalar parameters.
func itemList(p *sfv.Params, name string) sfv.List {
	v, ok := p.Get(name)
	if !ok {
		return nil
	}
	switch items := v.(type) {
	case []sfv.Item:
		return items
	default:
		return sfv.List{sfv.NewItem(v)}
	}
}
