package relay

import (
	"encoding/json"
	"io"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Value is one node of a decoded statistics document. The concrete type is one of
// Number, String, Bool, Null, Object or Array.
type Value interface {
	isValue()
}

// Number keeps the literal text of a JSON number so that coercion decides precision.
type Number json.Number

type String string

type Bool bool

type Null struct{}

// Field is one key/value member of an Object.
type Field struct {
	Key   string
	Value Value
}

// Object preserves the member order of the source document.
type Object []Field

type Array []Value

func (Number) isValue() {}
func (String) isValue() {}
func (Bool) isValue()   {}
func (Null) isValue()   {}
func (Object) isValue() {}
func (Array) isValue()  {}

// Get returns the first member named key.
func (o Object) Get(key string) (Value, bool) {
	for _, f := range o {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Coerce converts a leaf to a metric value. Only numbers that fit a finite float64 coerce;
// booleans and strings, including numeric-looking ones, never do.
func Coerce(v Value) (float64, bool) {
	n, ok := v.(Number)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseValue decodes a single JSON document from r.
func ParseValue(r io.Reader) (Value, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode document")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
		return nil, errors.Newf("unexpected delimiter %q", t)
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null{}, nil
	}
	return nil, errors.Newf("unexpected token %v", tok)
}

func decodeObject(dec *json.Decoder) (Value, error) {
	obj := Object{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.Newf("expected object key, got %v", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		obj = append(obj, Field{Key: key, Value: v})
	}
	// closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func decodeArray(dec *json.Decoder) (Value, error) {
	arr := Array{}
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return arr, nil
}
