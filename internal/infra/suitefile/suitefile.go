// Package suitefile loads submissions and suites from YAML or JSON files.
package suitefile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"coderun/internal/domain/execution"
)

// File is the on-disk layout of a suite. JSON documents are valid YAML, so
// one decoder serves both.
type File struct {
	Language     string     `yaml:"language"`
	Backend      string     `yaml:"backend"`
	ExpectedName string     `yaml:"expected_name"`
	TimeoutMs    int64      `yaml:"timeout_ms"`
	Source       string     `yaml:"source"`
	// Tests stay as nodes: an absent expected value (undefined) differs from
	// an explicit null, and mapping key order must survive re-encoding.
	Tests []yaml.Node `yaml:"tests"`
}

// Load reads a suite file from disk.
func Load(path string) (execution.Submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return execution.Submission{}, fmt.Errorf("read suite file: %w", err)
	}
	submission, err := Parse(data)
	if err != nil {
		return execution.Submission{}, fmt.Errorf("%s: %w", path, err)
	}
	return submission, nil
}

// Parse decodes a suite document into a submission. Source may be empty
// when the caller supplies it separately.
func Parse(data []byte) (execution.Submission, error) {
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return execution.Submission{}, fmt.Errorf("decode suite: %w", err)
	}

	var cases []execution.TestCase
	if file.Tests != nil {
		cases = make([]execution.TestCase, len(file.Tests))
	}
	for idx := range file.Tests {
		tc, err := toTestCase(&file.Tests[idx], idx)
		if err != nil {
			return execution.Submission{}, err
		}
		cases[idx] = tc
	}

	return execution.Submission{
		Source:       file.Source,
		ExpectedName: file.ExpectedName,
		Backend:      file.Backend,
		Suite: execution.TestSuite{
			LanguageHint: file.Language,
			TimeoutMs:    file.TimeoutMs,
			Cases:        cases,
		},
	}, nil
}

func toTestCase(node *yaml.Node, idx int) (execution.TestCase, error) {
	node = resolve(node)
	if node.Kind != yaml.MappingNode {
		return execution.TestCase{}, fmt.Errorf("test %d: expected a mapping (line %d)", idx+1, node.Line)
	}

	var name string
	var input, expected, expect *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := resolve(node.Content[i]), node.Content[i+1]
		switch key.Value {
		case "name":
			if err := value.Decode(&name); err != nil {
				return execution.TestCase{}, fmt.Errorf("test %d: name: %w", idx+1, err)
			}
		case "input":
			input = value
		case "expected":
			expected = value
		case "expect":
			expect = value
		default:
			return execution.TestCase{}, fmt.Errorf("test %d: unknown field %q (line %d)", idx+1, key.Value, key.Line)
		}
	}
	if name == "" {
		name = fmt.Sprintf("Test %d", idx+1)
	}

	tc := execution.TestCase{Name: name, Input: []json.RawMessage{}}
	if input != nil {
		seq := resolve(input)
		if seq.Kind != yaml.SequenceNode {
			return execution.TestCase{}, fmt.Errorf("test %q: input must be a sequence (line %d)", name, input.Line)
		}
		for _, arg := range seq.Content {
			raw, err := toJSON(arg)
			if err != nil {
				return execution.TestCase{}, fmt.Errorf("test %q: %w", name, err)
			}
			tc.Input = append(tc.Input, raw)
		}
	}

	if expected == nil {
		expected = expect
	}
	if expected != nil {
		raw, err := toJSON(expected)
		if err != nil {
			return execution.TestCase{}, fmt.Errorf("test %q: %w", name, err)
		}
		tc.Expected = raw
	}
	return tc, nil
}

func resolve(node *yaml.Node) *yaml.Node {
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	return node
}

// toJSON encodes a YAML node as compact JSON, keeping mapping order.
func toJSON(node *yaml.Node) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, node); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, node *yaml.Node) error {
	node = resolve(node)
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeJSON(buf, node.Content[0])
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for idx, item := range node.Content {
			if idx > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case yaml.MappingNode:
		buf.WriteByte('{')
		for idx := 0; idx+1 < len(node.Content); idx += 2 {
			if idx > 0 {
				buf.WriteByte(',')
			}
			key := resolve(node.Content[idx])
			if key.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: mapping keys must be scalars", key.Line)
			}
			if err := writeString(buf, key.Value); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeJSON(buf, node.Content[idx+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.ScalarNode:
		return writeScalar(buf, node)
	default:
		return fmt.Errorf("line %d: unsupported YAML node", node.Line)
	}
}

func writeScalar(buf *bytes.Buffer, node *yaml.Node) error {
	switch node.ShortTag() {
	case "!!null":
		buf.WriteString("null")
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		buf.WriteString(strconv.FormatBool(b))
	case "!!int", "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(execution.FormatNumber(f))
	default:
		return writeString(buf, node.Value)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
