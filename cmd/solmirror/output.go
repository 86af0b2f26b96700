package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// jsonMode reports whether the command should print JSON.
func jsonMode(c *cli.Context) bool {
	return c.Bool("json") || c.String("jq") != ""
}

// output prints v as indented JSON, or the results of the --jq filter over it.
func output(c *cli.Context, v interface{}) error {
	return writeOutput(c.App.Writer, c.String("jq"), v)
}

func writeOutput(w io.Writer, filter string, v interface{}) error {
	if filter == "" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	code, err := compileJQ(filter)
	if err != nil {
		return err
	}

	// gojq only understands the generic JSON types
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("failed to decode output: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := result.(error); isErr {
			return fmt.Errorf("jq filter failed: %w", err)
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
}

func compileJQ(filter string) (*gojq.Code, error) {
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

// matchJQ reports whether filter evaluates truthy on v.
func matchJQ(code *gojq.Code, v interface{}) bool {
	iter := code.Run(v)
	result, ok := iter.Next()
	if !ok {
		return false
	}
	if _, isErr := result.(error); isErr {
		return false
	}
	return isTruthy(result)
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// quietLogger only reports errors, to stderr.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}
