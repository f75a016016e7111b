// Package value implements the property-value tagged union: null, bool,
// int, double, string, list, map, and temporal variants, with
// structural, type-strict equality and a fixed total order used by the
// secondary indexes for range scans.
//
// There is no third-party "variant"/"any" library anywhere in the example
// pack; this is a justified stdlib-only component (see DESIGN.md).
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Kind tags the dynamic type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindList
	KindMap
	KindDate
	KindLocalTime
	KindLocalDateTime
	KindDuration
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindDate:
		return "date"
	case KindLocalTime:
		return "local_time"
	case KindLocalDateTime:
		return "local_date_time"
	case KindDuration:
		return "duration"
	default:
		return "unknown"
	}
}

// Value is a discriminated carrier for a single property value. The zero
// Value is KindNull. Values are immutable once constructed; assigning or
// returning a Value never deep-copies its container payload.
type Value struct {
	kind Kind
	b    bool
	i    int64
	d    float64
	s    string
	list []Value
	m    map[string]Value
	t    time.Time
	dur  time.Duration
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a bool value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an int value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Double returns a double value.
func Double(d float64) Value { return Value{kind: KindDouble, d: d} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a list value. The slice is used by reference; callers must
// not mutate it afterward.
func List(items []Value) Value { return Value{kind: KindList, list: items} }

// Map returns a map value. The map is used by reference; callers must not
// mutate it afterward.
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Date returns a date value (time-of-day and location are ignored).
func Date(t time.Time) Value { return Value{kind: KindDate, t: t} }

// LocalTime returns a local-time-of-day value.
func LocalTime(t time.Time) Value { return Value{kind: KindLocalTime, t: t} }

// LocalDateTime returns a local date-time value.
func LocalDateTime(t time.Time) Value { return Value{kind: KindLocalDateTime, t: t} }

// Duration returns a duration value.
func Duration(d time.Duration) Value { return Value{kind: KindDuration, dur: d} }

// Kind returns the value's dynamic type tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the bool payload; ok is false if v is not a bool.
func (v Value) AsBool() (b bool, ok bool) { return v.b, v.kind == KindBool }

// AsInt returns the int payload; ok is false if v is not an int.
func (v Value) AsInt() (i int64, ok bool) { return v.i, v.kind == KindInt }

// AsDouble returns the double payload; ok is false if v is not a double.
func (v Value) AsDouble() (d float64, ok bool) { return v.d, v.kind == KindDouble }

// AsString returns the string payload; ok is false if v is not a string.
func (v Value) AsString() (s string, ok bool) { return v.s, v.kind == KindString }

// AsList returns the list payload; ok is false if v is not a list.
func (v Value) AsList() (items []Value, ok bool) { return v.list, v.kind == KindList }

// AsMap returns the map payload; ok is false if v is not a map.
func (v Value) AsMap() (m map[string]Value, ok bool) { return v.m, v.kind == KindMap }

// AsTime returns the temporal payload; ok is false if v is not one of the
// temporal kinds (Date, LocalTime, LocalDateTime).
func (v Value) AsTime() (t time.Time, ok bool) {
	switch v.kind {
	case KindDate, KindLocalTime, KindLocalDateTime:
		return v.t, true
	default:
		return time.Time{}, false
	}
}

// AsDuration returns the duration payload; ok is false if v is not a
// duration.
func (v Value) AsDuration() (d time.Duration, ok bool) { return v.dur, v.kind == KindDuration }

// Equal reports structural, type-strict equality: Int(1) != Double(1.0).
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindDouble:
		return v.d == o.d || (math.IsNaN(v.d) && math.IsNaN(o.d))
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, vv := range v.m {
			ov, ok := o.m[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	case KindDuration:
		return v.dur == o.dur
	default: // temporal
		return v.t.Equal(o.t)
	}
}

// typeOrder assigns the fixed cross-type ordering:
// null < bool < numeric < string < list < map < temporal.
func typeOrder(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt, KindDouble:
		return 2
	case KindString:
		return 3
	case KindList:
		return 4
	case KindMap:
		return 5
	default: // date/local_time/local_date_time/duration
		return 6
	}
}

// numeric returns v's value as a float64 for cross-kind numeric
// comparison (int vs double), with NaN ordered last per spec.
func numeric(v Value) float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.d
}

// Compare implements the fixed total order over values, usable as the
// comparator for secondary-index range scans. Returns -1, 0, or 1.
func Compare(a, b Value) int {
	ta, tb := typeOrder(a.kind), typeOrder(b.kind)
	if ta != tb {
		return cmpInt(ta, tb)
	}

	switch ta {
	case 0: // null
		return 0
	case 1: // bool
		return cmpBool(a.b, b.b)
	case 2: // numeric, NaN last
		an, bn := numeric(a), numeric(b)
		aNaN, bNaN := math.IsNaN(an), math.IsNaN(bn)
		switch {
		case aNaN && bNaN:
			return 0
		case aNaN:
			return 1
		case bNaN:
			return -1
		default:
			return cmpFloat(an, bn)
		}
	case 3: // string, lexicographic bytes
		return bytes.Compare([]byte(a.s), []byte(b.s))
	case 4: // list, lexicographic
		for i := 0; i < len(a.list) && i < len(b.list); i++ {
			if c := Compare(a.list[i], b.list[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(a.list), len(b.list))
	case 5: // map, lexicographic on sorted keys
		return compareMaps(a.m, b.m)
	default: // temporal
		return compareTemporal(a, b)
	}
}

func compareTemporal(a, b Value) int {
	if a.kind == KindDuration || b.kind == KindDuration {
		if a.kind != b.kind {
			return cmpInt(int(a.kind), int(b.kind))
		}
		return cmpInt64(int64(a.dur), int64(b.dur))
	}
	if a.kind != b.kind {
		return cmpInt(int(a.kind), int(b.kind))
	}
	switch {
	case a.t.Before(b.t):
		return -1
	case a.t.After(b.t):
		return 1
	default:
		return 0
	}
}

func compareMaps(a, b map[string]Value) int {
	ak := sortedKeys(a)
	bk := sortedKeys(b)
	for i := 0; i < len(ak) && i < len(bk); i++ {
		if c := bytes.Compare([]byte(ak[i]), []byte(bk[i])); c != 0 {
			return c
		}
		if c := Compare(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	return cmpInt(len(ak), len(bk))
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

// FromWire constructs a Value from an externally decoded wire payload
// (e.g. Bolt/JSON). Unsupported dynamic types are rejected by returning a
// null value rather than an error.
func FromWire(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float64:
		return Double(x)
	case string:
		return String(x)
	case []any:
		items := make([]Value, len(x))
		for i, it := range x {
			items[i] = FromWire(it)
		}
		return List(items)
	case map[string]any:
		out := make(map[string]Value, len(x))
		for k, it := range x {
			out[k] = FromWire(it)
		}
		return Map(out)
	case time.Time:
		return LocalDateTime(x)
	case time.Duration:
		return Duration(x)
	default:
		return Null()
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindDouble:
		return fmt.Sprintf("%g", v.d)
	case KindString:
		return v.s
	case KindList:
		return fmt.Sprintf("%v", v.list)
	case KindMap:
		return fmt.Sprintf("%v", v.m)
	case KindDuration:
		return v.dur.String()
	default:
		return v.t.String()
	}
}

// wireValue is Value's JSON wire shape: every unexported field becomes a
// tagged, kind-specific slot, so a Value round-trips across the shard
// manager's heartbeat protocol (and any other JSON boundary) without
// losing its dynamic type. Unused slots are omitted rather than sent as
// zero values.
type wireValue struct {
	Kind     Kind             `json:"kind"`
	Bool     *bool            `json:"bool,omitempty"`
	Int      *int64           `json:"int,omitempty"`
	Double   *float64         `json:"double,omitempty"`
	String   *string          `json:"string,omitempty"`
	List     []Value          `json:"list,omitempty"`
	Map      map[string]Value `json:"map,omitempty"`
	Time     *time.Time       `json:"time,omitempty"`
	Duration *time.Duration   `json:"duration,omitempty"`
}

// MarshalJSON implements json.Marshaler so a Value carries its dynamic
// type across a JSON boundary instead of degrading to an empty object
// (Value's fields are all unexported, so the default encoding would
// silently drop every payload).
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Kind: v.kind}
	switch v.kind {
	case KindBool:
		w.Bool = &v.b
	case KindInt:
		w.Int = &v.i
	case KindDouble:
		w.Double = &v.d
	case KindString:
		w.String = &v.s
	case KindList:
		w.List = v.list
	case KindMap:
		w.Map = v.m
	case KindDate, KindLocalTime, KindLocalDateTime:
		w.Time = &v.t
	case KindDuration:
		w.Duration = &v.dur
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler, the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case KindNull:
		*v = Null()
	case KindBool:
		if w.Bool != nil {
			*v = Bool(*w.Bool)
		}
	case KindInt:
		if w.Int != nil {
			*v = Int(*w.Int)
		}
	case KindDouble:
		if w.Double != nil {
			*v = Double(*w.Double)
		}
	case KindString:
		if w.String != nil {
			*v = String(*w.String)
		}
	case KindList:
		*v = List(w.List)
	case KindMap:
		*v = Map(w.Map)
	case KindDate:
		if w.Time != nil {
			*v = Date(*w.Time)
		}
	case KindLocalTime:
		if w.Time != nil {
			*v = LocalTime(*w.Time)
		}
	case KindLocalDateTime:
		if w.Time != nil {
			*v = LocalDateTime(*w.Time)
		}
	case KindDuration:
		if w.Duration != nil {
			*v = Duration(*w.Duration)
		}
	default:
		*v = Null()
	}
	return nil
}
