package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/s0up4200/wxapi/filter"
	"github.com/s0up4200/wxapi/wechat"
)

// printJSON writes v as indented JSON. Non-ASCII text is kept as is.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// decodeJSON decodes a single JSON value, keeping numbers as json.Number
func decodeJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

// printPayload prints the payload, or the value selectExpr picks from it
func printPayload(w io.Writer, payload wechat.Payload) error {
	if selectExpr == "" {
		return printJSON(w, payload)
	}

	sel, err := filters.Compiler().CompileSelector(selectExpr)
	if err != nil {
		return fmt.Errorf("invalid select expression: %w", err)
	}
	return printSelected(w, sel, payload)
}

func printSelected(w io.Writer, sel filter.Selector, payload wechat.Payload) error {
	value, err := sel.Select(payload)
	if err != nil {
		return err
	}
	if s, ok := value.(string); ok {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	return printJSON(w, value)
}
