package scraper

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ValueKind discriminates the variants a record field can hold.
type ValueKind int

// Supported field value variants.
const (
	KindNull ValueKind = iota
	KindBool
	KindText
	KindList
	KindRanges
)

// Value is one cell of an issue record: null, a boolean flag, a scalar
// string, a list of strings, or a list of revision ranges (each range is a
// 1- or 2-element token sequence).
type Value struct {
	Kind   ValueKind
	Bool   bool
	Text   string
	List   []string
	Ranges [][]string
}

// Null returns the null Value.
func Null() Value { return Value{Kind: KindNull} }

// BoolValue wraps a boolean flag.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// TextValue wraps a scalar string.
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// ListValue wraps an ordered list of strings.
func ListValue(items []string) Value { return Value{Kind: KindList, List: items} }

// RangesValue wraps a list of revision ranges.
func RangesValue(ranges [][]string) Value { return Value{Kind: KindRanges, Ranges: ranges} }

// MarshalJSON encodes the underlying variant directly, so null, strings and
// lists round-trip through ordinary JSON decoding.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindText:
		return json.Marshal(v.Text)
	case KindList:
		return json.Marshal(v.List)
	case KindRanges:
		return json.Marshal(v.Ranges)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.Kind)
	}
}

// UnmarshalJSON restores the variant from its JSON form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	switch t := raw.(type) {
	case nil:
		*v = Null()
	case bool:
		*v = BoolValue(t)
	case string:
		*v = TextValue(t)
	case []any:
		return v.unmarshalList(t)
	default:
		return fmt.Errorf("unsupported value type %T", raw)
	}
	return nil
}

func (v *Value) unmarshalList(items []any) error {
	if len(items) == 0 {
		*v = ListValue([]string{})
		return nil
	}
	if _, nested := items[0].([]any); nested {
		ranges := make([][]string, 0, len(items))
		for _, item := range items {
			inner, ok := item.([]any)
			if !ok {
				return fmt.Errorf("mixed range list element %T", item)
			}
			tokens := make([]string, 0, len(inner))
			for _, tok := range inner {
				s, ok := tok.(string)
				if !ok {
					return fmt.Errorf("non-string range token %T", tok)
				}
				tokens = append(tokens, s)
			}
			ranges = append(ranges, tokens)
		}
		*v = RangesValue(ranges)
		return nil
	}
	list := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return fmt.Errorf("non-string list element %T", item)
		}
		list = append(list, s)
	}
	*v = ListValue(list)
	return nil
}

// Record is one scraped issue report. The tracker UI exposes an open-ended
// label vocabulary, so beyond the fields every issue carries, values live in
// the Extra map keyed by their canonical label.
type Record struct {
	ID           string
	URL          string
	Error        bool
	Title        string
	Hotlists     []string
	ReportedTime string
	FixedTime    string
	Extra        map[string]Value
}

// NewRecord returns a Record for the given issue id and page URL.
func NewRecord(id, url string) *Record {
	return &Record{
		ID:    id,
		URL:   url,
		Extra: make(map[string]Value),
	}
}

// Set stores a field value under its canonical key.
func (r *Record) Set(key string, value Value) {
	r.Extra[key] = value
}

// Get returns the stored value for key, if any.
func (r *Record) Get(key string) (Value, bool) {
	v, ok := r.Extra[key]
	return v, ok
}

// AppendContinuation adds a continuation line to the field under key. A
// scalar value is promoted to a list on the second contribution; an empty
// scalar is replaced by a single-element list. Lists only ever grow.
func (r *Record) AppendContinuation(key, line string) {
	existing, ok := r.Extra[key]
	if !ok {
		return
	}
	switch existing.Kind {
	case KindText:
		if existing.Text == "" {
			r.Extra[key] = ListValue([]string{line})
		} else {
			r.Extra[key] = ListValue([]string{existing.Text, line})
		}
	case KindList:
		existing.List = append(existing.List, line)
		r.Extra[key] = existing
	}
}

// Fields flattens the record into the cell map consumed by the batch
// persister. Optional fields appear only when populated, matching the
// opportunistic column model of the output tables.
func (r *Record) Fields() map[string]Value {
	fields := make(map[string]Value, len(r.Extra)+7)
	fields["id"] = TextValue(r.ID)
	fields["url"] = TextValue(r.URL)
	fields["error"] = BoolValue(r.Error)
	if r.Title != "" {
		fields["title"] = TextValue(r.Title)
	}
	if len(r.Hotlists) > 0 {
		fields["hotlists"] = ListValue(r.Hotlists)
	}
	if r.ReportedTime != "" {
		fields["reported_time"] = TextValue(r.ReportedTime)
	}
	if r.FixedTime != "" {
		fields["fixed_time"] = TextValue(r.FixedTime)
	}
	for key, value := range r.Extra {
		fields[key] = value
	}
	return fields
}

// Keys returns the sorted field names present on the record.
func (r *Record) Keys() []string {
	fields := r.Fields()
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// RevisionData holds the parsed contents of one revision-range sub-page.
type RevisionData struct {
	Components []string
	Revisions  [][]string
	Buildtime  []string
}

// Apply merges the sub-page data into the record under the given key prefix.
func (d *RevisionData) Apply(r *Record, prefix string) {
	r.Set(prefix+"_components", ListValue(d.Components))
	r.Set(prefix+"_revisions", RangesValue(d.Revisions))
	if d.Buildtime != nil {
		r.Set(prefix+"_buildtime", ListValue(d.Buildtime))
	} else {
		r.Set(prefix+"_buildtime", Null())
	}
}

// Result reports the outcome of one issue visit to the worker loop. A nil
// Err with a non-nil Record is a completed extraction (the record itself may
// still be an error record when the page never loaded). A non-nil Err means
// the automation session is suspect and should be restarted.
type Result struct {
	Record *Record
	Err    error
}
