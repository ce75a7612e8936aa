package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Indent is the indentation used for every committed document.
const Indent = "    "

// Encode renders v the way documents are stored: indented, keys of maps
// sorted, HTML characters unescaped, trailing newline.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", Indent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses exactly one JSON value. Numbers decode as json.Number so
// they re-encode unchanged.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

// Normalize round-trips v through Encode and Decode, turning Go values into
// the same shapes a Read returns.
func Normalize(v any) (any, []byte, error) {
	data, err := Encode(v)
	if err != nil {
		return nil, nil, err
	}
	out, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}
	return out, data, nil
}

// blank reports whether data holds nothing but whitespace.
func blank(data []byte) bool {
	return len(bytes.TrimSpace(data)) == 0
}
