package audit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"
)

// Kind classifies a field value for storage.
type Kind string

const (
	KindScalar Kind = "scalar"
	KindArray  Kind = "array"
	KindDate   Kind = "date"
	KindNull   Kind = "null"
)

// FieldChange records one field's before/after value inside an event.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
	Kind  Kind   `json:"kind"`
}

// DetectChanges compares two entity states field by field and returns the
// fields whose values differ. States are generic key/value maps; each entity
// type declares which of its fields are tracked. With no tracked list every
// field of the new state is compared. Equal fields are omitted, so a state
// compared against itself yields nothing.
func DetectChanges(oldState, newState map[string]any, trackedFields ...string) []FieldChange {
	fields := trackedFields
	if len(fields) == 0 {
		fields = make([]string, 0, len(newState))
		for k := range newState {
			fields = append(fields, k)
		}
		sort.Strings(fields)
	}

	var changes []FieldChange
	for _, field := range fields {
		oldVal, newVal := oldState[field], newState[field]
		if equalValues(oldVal, newVal) {
			continue
		}
		changes = append(changes, FieldChange{
			Field: field,
			Old:   renderValue(oldVal),
			New:   renderValue(newVal),
			Kind:  classify(newVal),
		})
	}
	return changes
}

func equalValues(a, b any) bool {
	at, aok := asTime(a)
	bt, bok := asTime(b)
	if aok && bok {
		return at.Equal(bt)
	}
	if aok != bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func classify(v any) Kind {
	if v == nil {
		return KindNull
	}
	if _, ok := asTime(v); ok {
		return KindDate
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return KindArray
	default:
		return KindScalar
	}
}

// renderValue serializes a value to its stored string form. Dates become
// ISO-8601, arrays and maps become JSON, scalars use their natural format.
func renderValue(v any) string {
	if v == nil {
		return ""
	}
	if t, ok := asTime(v); ok {
		return t.UTC().Format(time.RFC3339)
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct, reflect.Ptr:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	default:
		return time.Time{}, false
	}
}
