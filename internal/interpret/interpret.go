// Package interpret isolates the JSON object a model embeds in free text.
//
// The object is taken to span from the first '{' to the last '}' of the
// response. Prose around it must not contain braces and the model must emit a
// single object; several fragments or stray braces make the span invalid and
// the result a parse failure.
package interpret

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const indent = "  "

// Interpret maps raw model text to a Result. It never panics.
func Interpret(raw string) Result {
	start := strings.IndexByte(raw, '{')
	if start == -1 {
		return Unstructured(raw)
	}
	end := strings.LastIndexByte(raw, '}')
	if end < start {
		return Unstructured(raw)
	}

	formatted, err := Reformat([]byte(raw[start : end+1]))
	if err != nil {
		return Failed(ErrorParse, err.Error())
	}
	return Structured(formatted)
}

// Reformat re-serializes one JSON value keeping object key order, indenting
// with two spaces and writing non-ASCII characters literally.
func Reformat(data []byte) (json.RawMessage, error) {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var buf bytes.Buffer
	if err := writeValue(dec, &buf, 0); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return buf.Bytes(), nil
}

func writeValue(dec *json.Decoder, buf *bytes.Buffer, depth int) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return writeObject(dec, buf, depth)
		case '[':
			return writeArray(dec, buf, depth)
		default:
			return fmt.Errorf("unexpected delimiter %q", t)
		}
	case string:
		return writeString(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case nil:
		buf.WriteString("null")
	default:
		return fmt.Errorf("unexpected token %v", tok)
	}
	return nil
}

type member struct {
	key   string
	value []byte
}

// writeObject keeps the first position of a repeated key and the last value
// written for it.
func writeObject(dec *json.Decoder, buf *bytes.Buffer, depth int) error {
	var members []member
	seen := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("object key is %T, not a string", tok)
		}
		var value bytes.Buffer
		if err := writeValue(dec, &value, depth+1); err != nil {
			return err
		}
		if i, dup := seen[key]; dup {
			members[i].value = value.Bytes()
			continue
		}
		seen[key] = len(members)
		members = append(members, member{key: key, value: value.Bytes()})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	buf.WriteByte('{')
	for i, m := range members {
		if i > 0 {
			buf.WriteByte(',')
		}
		newline(buf, depth+1)
		if err := writeString(buf, m.key); err != nil {
			return err
		}
		buf.WriteString(": ")
		buf.Write(m.value)
	}
	if len(members) > 0 {
		newline(buf, depth)
	}
	buf.WriteByte('}')
	return nil
}

func writeArray(dec *json.Decoder, buf *bytes.Buffer, depth int) error {
	buf.WriteByte('[')
	n := 0
	for dec.More() {
		if n > 0 {
			buf.WriteByte(',')
		}
		newline(buf, depth+1)
		if err := writeValue(dec, buf, depth+1); err != nil {
			return err
		}
		n++
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	if n > 0 {
		newline(buf, depth)
	}
	buf.WriteByte(']')
	return nil
}

func newline(buf *bytes.Buffer, depth int) {
	buf.WriteByte('\n')
	buf.WriteString(strings.Repeat(indent, depth))
}

// writeString quotes s without HTML escaping so Persian and other non-ASCII
// text stays readable.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
