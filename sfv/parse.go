package sfv

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunglas/httpsfv"
)

var (
	ErrUnbalancedInnerList = errors.New("sfv: unbalanced inner-list parameter")
	ErrInnerListMember     = errors.New("sfv: inner-list members are not supported at the top level")
)

// placeholder tokens substituted for inner-list parameter values so the base
// parser accepts the field. The trailing digits make each occurrence unique
// within one parse.
const nestedPlaceholder = "*prepnested"

// ParseList parses a structured list whose items may carry inner-list valued
// parameters. Top-level members must be items.
func ParseList(header string) (List, error) {
	masked, nested, err := maskInnerListParams(header)
	if err != nil {
		return nil, err
	}
	parsed, err := httpsfv.UnmarshalList([]string{masked})
	if err != nil {
		return nil, fmt.Errorf("sfv: parse list: %w", err)
	}
	out := make(List, 0, len(parsed))
	for _, member := range parsed {
		item, ok := member.(httpsfv.Item)
		if !ok {
			return nil, ErrInnerListMember
		}
		converted, err := convertItem(item, nested)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

// ParseItem parses a single structured item with the same extensions as
// ParseList.
func ParseItem(s string) (Item, error) {
	list, err := ParseList(s)
	if err != nil {
		return Item{}, err
	}
	if len(list) != 1 {
		return Item{}, fmt.Errorf("sfv: expected a single item, got %d members", len(list))
	}
	return list[0], nil
}

// maskInnerListParams replaces every parameter value of the form =( ... )
// with a unique placeholder token, returning the rewritten field and the
// captured inner texts keyed by placeholder. Quoted strings are skipped and
// parentheses nest.
func maskInnerListParams(s string) (string, map[string]string, error) {
	var b strings.Builder
	nested := map[string]string{}
	inString := false
	serial := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '(' && i > 0 && s[i-1] == '=':
			depth := 1
			quoted := false
			j := i + 1
			for ; j < len(s) && depth > 0; j++ {
				d := s[j]
				if quoted {
					if d == '\\' {
						j++
					} else if d == '"' {
						quoted = false
					}
					continue
				}
				switch d {
				case '"':
					quoted = true
				case '(':
					depth++
				case ')':
					depth--
				}
			}
			if depth != 0 {
				return "", nil, ErrUnbalancedInnerList
			}
			placeholder := fmt.Sprintf("%s%d", nestedPlaceholder, serial)
			serial++
			nested[placeholder] = s[i+1 : j-1]
			b.WriteString(placeholder)
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	if inString {
		return "", nil, fmt.Errorf("sfv: unterminated string")
	}
	return b.String(), nested, nil
}

// parseInnerItems parses the interior of an inner-list parameter value:
// space-separated items, each of which may again carry inner-list parameters.
func parseInnerItems(content string) ([]Item, error) {
	masked, nested, err := maskInnerListParams(content)
	if err != nil {
		return nil, err
	}
	parsed, err := httpsfv.UnmarshalList([]string{"(" + masked + ")"})
	if err != nil {
		return nil, fmt.Errorf("sfv: parse inner list: %w", err)
	}
	if len(parsed) != 1 {
		return nil, fmt.Errorf("sfv: parse inner list: unexpected member count %d", len(parsed))
	}
	inner, ok := parsed[0].(httpsfv.InnerList)
	if !ok {
		return nil, fmt.Errorf("sfv: parse inner list: not an inner list")
	}
	out := make([]Item, 0, len(inner.Items))
	for _, item := range inner.Items {
		converted, err := convertItem(item, nested)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

func convertItem(item httpsfv.Item, nested map[string]string) (Item, error) {
	out := Item{Value: item.Value, Params: NewParams()}
	if item.Params == nil {
		return out, nil
	}
	for _, name := range item.Params.Names() {
		v, _ := item.Params.Get(name)
		if tok, ok := v.(httpsfv.Token); ok {
			if content, found := nested[string(tok)]; found && strings.HasPrefix(string(tok), nestedPlaceholder) {
				items, err := parseInnerItems(content)
				if err != nil {
					return Item{}, err
				}
				out.Params.Add(name, items)
				continue
			}
		}
		out.Params.Add(name, v)
	}
	return out, nil
}
