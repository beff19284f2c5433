package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
)

// compileJQ parses and compiles a jq filter. An empty filter returns nil.
func compileJQ(filter string) (*gojq.Code, error) {
	if filter == "" {
		return nil, nil
	}
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// runJQ applies code to v and writes every result as indented JSON.
// v is round-tripped through JSON so the filter sees the document's field names.
func runJQ(code *gojq.Code, v interface{}, w io.Writer) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal jq input: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("failed to decode jq input: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := result.(error); ok {
			return fmt.Errorf("jq filter failed: %w", err)
		}
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to write jq result: %w", err)
		}
	}
}
