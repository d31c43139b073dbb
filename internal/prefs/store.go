// Package prefs stores mutable user preferences that override packaged
// application metadata.
//
// Every Set and Delete is atomic for its key and the last writer wins;
// there are no multi-key transactions.
package prefs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store is a typed key-value preference store shared by update sessions.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (any, bool, error)

	// Set stores value under key. A nil value deletes the key.
	Set(key string, value any) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// List returns every key with the given prefix and its value.
	List(prefix string) (map[string]any, error)

	// Close releases the store.
	Close() error
}

// ErrUnsupportedValue is returned when a value has no stored representation.
var ErrUnsupportedValue = errors.New("unsupported preference value type")

// Value kinds recorded alongside the encoded value so reads return the type
// that was written.
const (
	kindBool    = "bool"
	kindString  = "string"
	kindInt     = "int"
	kindInt32   = "int32"
	kindInt64   = "int64"
	kindFloat32 = "float32"
	kindFloat64 = "float64"
	kindTime    = "time"
	kindStrings = "strings"
)

type envelope struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func encode(value any) ([]byte, error) {
	var (
		kind string
		v    any
	)

	switch x := value.(type) {
	case bool:
		kind, v = kindBool, x
	case string:
		kind, v = kindString, x
	case int:
		kind, v = kindInt, x
	case int32:
		kind, v = kindInt32, x
	case int64:
		kind, v = kindInt64, x
	case float32:
		kind, v = kindFloat32, x
	case float64:
		kind, v = kindFloat64, x
	case time.Time:
		kind, v = kindTime, x.UTC().Format(time.RFC3339Nano)
	case []string:
		kind, v = kindStrings, x
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode preference: %w", err)
	}
	return json.Marshal(envelope{Kind: kind, Value: raw})
}

func decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode preference: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(env.Value))
	dec.UseNumber()

	switch env.Kind {
	case kindBool:
		var b bool
		if err := dec.Decode(&b); err != nil {
			return nil, err
		}
		return b, nil
	case kindString:
		var s string
		if err := dec.Decode(&s); err != nil {
			return nil, err
		}
		return s, nil
	case kindInt:
		var n int
		if err := dec.Decode(&n); err != nil {
			return nil, err
		}
		return n, nil
	case kindInt32:
		var n int32
		if err := dec.Decode(&n); err != nil {
			return nil, err
		}
		return n, nil
	case kindInt64:
		var n int64
		if err := dec.Decode(&n); err != nil {
			return nil, err
		}
		return n, nil
	case kindFloat32:
		var f float32
		if err := dec.Decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	case kindFloat64:
		var f float64
		if err := dec.Decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	case kindTime:
		var s string
		if err := dec.Decode(&s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case kindStrings:
		var ss []string
		if err := dec.Decode(&ss); err != nil {
			return nil, err
		}
		return ss, nil
	default:
		return nil, fmt.Errorf("unknown preference kind %q", env.Kind)
	}
}
