package sfv

import (
	"fmt"

	"github.com/dunglas/httpsfv"
)

// Dict is a structured dictionary with item members, a thin ordered wrapper
// over the base library used for the Events response header. Dictionary
// members never need the inner-list parameter extension.
type Dict struct {
	d *httpsfv.Dictionary
}

// NewDict returns an empty dictionary.
func NewDict() *Dict {
	return &Dict{d: httpsfv.NewDictionary()}
}

// ParseDict parses a structured dictionary header value.
func ParseDict(header string) (*Dict, error) {
	d, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return nil, fmt.Errorf("sfv: parse dictionary: %w", err)
	}
	return &Dict{d: d}, nil
}

// Add sets key to a bare value, keeping insertion order on first add.
func (d *Dict) Add(key string, v any) {
	switch bv := v.(type) {
	case int:
		v = int64(bv)
	case Item:
		params := httpsfv.NewParams()
		for _, name := range bv.Params.Names() {
			pv, _ := bv.Params.Get(name)
			params.Add(name, pv)
		}
		d.d.Add(key, httpsfv.Item{Value: bv.Value, Params: params})
		return
	}
	d.d.Add(key, httpsfv.Item{Value: v, Params: httpsfv.NewParams()})
}

// Get returns the bare value stored under key.
func (d *Dict) Get(key string) (any, bool) {
	member, ok := d.d.Get(key)
	if !ok {
		return nil, false
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return nil, false
	}
	return item.Value, true
}

// Names returns the member names in insertion order.
func (d *Dict) Names() []string {
	return d.d.Names()
}

// Merge copies every member of o into d, overwriting existing keys.
func (d *Dict) Merge(o *Dict) {
	if o == nil {
		return
	}
	for _, name := range o.d.Names() {
		member, _ := o.d.Get(name)
		d.d.Add(name, member)
	}
}

// Marshal renders the dictionary in wire form.
func (d *Dict) Marshal() (string, error) {
	s, err := httpsfv.Marshal(d.d)
	if err != nil {
		return "", fmt.Errorf("sfv: marshal dictionary: %w", err)
	}
	return s, nil
}

// String renders the dictionary, swallowing the (structurally impossible for
// item-only members) marshal error.
func (d *Dict) String() string {
	s, _ := d.Marshal()
	return s
}
