package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// ParseJSON decodes a JSON document into a Value, keeping object key order.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("graph: trailing data after JSON value")
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
			o := &Obj{vals: map[string]Value{}}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("graph: object key is %T", kt)
				}
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				o.Set(key, v)
			}
			_, err := dec.Token()
			return o, err
		case '[':
			a := &Arr{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				a.elems = append(a.elems, v)
			}
			_, err := dec.Token()
			return a, err
		}
		return nil, fmt.Errorf("graph: unexpected delimiter %v", t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			// Out of float range: keep the digits, ids survive as strings.
			return Str(t.String()), nil
		}
		if f > 1<<53 || f < -(1<<53) {
			return Str(t.String()), nil
		}
		return Num(f), nil
	case string:
		return Str(t), nil
	case bool:
		return Boolean(t), nil
	case nil:
		return NullValue, nil
	}
	return nil, fmt.Errorf("graph: unexpected token %T", tok)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
