package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Kind identifies which variant a Node holds
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Node is a decoded JSON value: a scalar, an ordered sequence, or a mapping
// whose keys keep the order they had in the document.
type Node struct {
	kind   Kind
	text   string // string value, or the literal of a number
	flag   bool
	items  []Node
	fields []Field
}

// Field is one key/value pair of a mapping Node
type Field struct {
	Key   string
	Value Node
}

// DecodeNode reads exactly one JSON value from r
func DecodeNode(r io.Reader) (Node, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	n, err := decodeValue(dec)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Node{}, fmt.Errorf("decoding JSON: empty document")
		}
		return Node{}, fmt.Errorf("decoding JSON: %w", err)
	}

	if _, err := dec.Token(); err != io.EOF {
		return Node{}, fmt.Errorf("decoding JSON: unexpected data after top-level value")
	}

	return n, nil
}

// ParseNode decodes a JSON document held in memory
func ParseNode(data []byte) (Node, error) {
	return DecodeNode(strings.NewReader(string(data)))
}

func decodeValue(dec *json.Decoder) (Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return Node{}, err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return decodeMapping(dec)
		case '[':
			return decodeSequence(dec)
		default:
			return Node{}, fmt.Errorf("unexpected delimiter %q", v)
		}
	case string:
		return Node{kind: KindString, text: v}, nil
	case json.Number:
		return Node{kind: KindNumber, text: v.String()}, nil
	case bool:
		return Node{kind: KindBool, flag: v}, nil
	case nil:
		return Node{kind: KindNull}, nil
	default:
		return Node{}, fmt.Errorf("unexpected token %v", tok)
	}
}

func decodeMapping(dec *json.Decoder) (Node, error) {
	n := Node{kind: KindMapping}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Node{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Node{}, fmt.Errorf("expected object key, got %v", tok)
		}

		value, err := decodeValue(dec)
		if err != nil {
			return Node{}, fmt.Errorf("value of %q: %w", key, err)
		}
		n.fields = append(n.fields, Field{Key: key, Value: value})
	}

	// closing '}'
	if _, err := dec.Token(); err != nil {
		return Node{}, err
	}
	return n, nil
}

func decodeSequence(dec *json.Decoder) (Node, error) {
	n := Node{kind: KindSequence}
	for dec.More() {
		value, err := decodeValue(dec)
		if err != nil {
			return Node{}, fmt.Errorf("element %d: %w", len(n.items), err)
		}
		n.items = append(n.items, value)
	}

	// closing ']'
	if _, err := dec.Token(); err != nil {
		return Node{}, err
	}
	return n, nil
}

// Kind returns the variant held by the node
func (n Node) Kind() Kind {
	return n.kind
}

// Len returns the number of elements of a sequence or fields of a mapping
func (n Node) Len() int {
	switch n.kind {
	case KindSequence:
		return len(n.items)
	case KindMapping:
		return len(n.fields)
	default:
		return 0
	}
}

// Items returns the elements of a sequence, nil for any other kind
func (n Node) Items() []Node {
	return n.items
}

// Fields returns the fields of a mapping in document order
func (n Node) Fields() []Field {
	return n.fields
}

// Keys returns the mapping keys in document order
func (n Node) Keys() []string {
	keys := make([]string, 0, len(n.fields))
	for _, f := range n.fields {
		keys = append(keys, f.Key)
	}
	return keys
}

// Get looks up a key of a mapping. The first occurrence wins on duplicate keys.
func (n Node) Get(key string) (Node, bool) {
	for _, f := range n.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Node{}, false
}

// Has reports whether a mapping holds key
func (n Node) Has(key string) bool {
	_, ok := n.Get(key)
	return ok
}

// Index returns the i-th element of a sequence
func (n Node) Index(i int) (Node, bool) {
	if n.kind != KindSequence || i < 0 || i >= len(n.items) {
		return Node{}, false
	}
	return n.items[i], true
}

// AsString returns the value of a string node
func (n Node) AsString() (string, bool) {
	if n.kind != KindString {
		return "", false
	}
	return n.text, true
}

// AsBool returns the value of a bool node
func (n Node) AsBool() (bool, bool) {
	if n.kind != KindBool {
		return false, false
	}
	return n.flag, true
}

// AsFloat returns the value of a number node
func (n Node) AsFloat() (float64, bool) {
	if n.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(n.text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// AsInt64 returns the value of a number node truncated to an integer.
// Literals like 1.7e12 or 1700000000000.0 are accepted.
func (n Node) AsInt64() (int64, bool) {
	if n.kind != KindNumber {
		return 0, false
	}
	if i, err := strconv.ParseInt(n.text, 10, 64); err == nil {
		return i, true
	}
	f, ok := n.AsFloat()
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// StringField returns a non-empty string value stored under key
func (n Node) StringField(key string) (string, bool) {
	v, ok := n.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.AsString()
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// FirstStringField evaluates keys in priority order and returns the first
// present, non-empty string value along with the key it was found under.
func (n Node) FirstStringField(keys ...string) (value, key string, ok bool) {
	for _, k := range keys {
		if v, found := n.StringField(k); found {
			return v, k, true
		}
	}
	return "", "", false
}
