package store

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"strings"
)

// Codec defines methods for encoding and decoding values.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec implements Codec using encoding/json.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// GobCodec implements Codec using encoding/gob. Values are encoded as
// interfaces so they can be decoded without knowing their type; custom types
// must be registered with gob.Register.
type GobCodec struct{}

func (GobCodec) Marshal(v any) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(&v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (GobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Serializer selects the codec applied to values.
type Serializer int

const (
	SerializerNone Serializer = iota
	SerializerJSON
	SerializerGob
)

// ParseSerializer maps a configuration name to a Serializer.
func ParseSerializer(name string) (Serializer, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return SerializerNone, nil
	case "json":
		return SerializerJSON, nil
	case "gob":
		return SerializerGob, nil
	}
	return SerializerNone, fmt.Errorf("unknown serializer %q", name)
}

// Codec returns the codec of s, nil for SerializerNone.
func (s Serializer) Codec() Codec {
	switch s {
	case SerializerJSON:
		return JSONCodec{}
	case SerializerGob:
		return GobCodec{}
	}
	return nil
}

func (s Serializer) String() string {
	switch s {
	case SerializerJSON:
		return "json"
	case SerializerGob:
		return "gob"
	}
	return "none"
}
