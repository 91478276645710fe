package mcp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseArgs turns the free-text argument part of an @mcp reference into
// tool arguments. First successful parse wins:
//
//  1. JSON object → used as-is
//  2. other JSON values (array, string, number, bool, null) → {"input": value}
//  3. YAML carrying structure (arrays or nested maps) → map
//  4. "key: value" / "key=value" pairs, comma or newline separated
//  5. anything else → {"input": raw text}
//
// Empty input yields an empty map for tools without parameters.
func ParseArgs(input string) (map[string]any, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return map[string]any{}, nil
	}

	if args, ok := parseJSONArgs(input); ok {
		return args, nil
	}
	if args, ok := parseYAMLArgs(input); ok {
		return args, nil
	}
	if args, ok := parsePairArgs(input); ok {
		return args, nil
	}
	return map[string]any{"input": input}, nil
}

// parseJSONArgs accepts any valid JSON value. Non-object values are
// wrapped under "input".
func parseJSONArgs(input string) (map[string]any, bool) {
	// Cheap reject on the first byte; most @mcp arguments are not JSON.
	b := input[0]
	jsonStart := b == '{' || b == '[' || b == '"' ||
		(b >= '0' && b <= '9') || b == '-' ||
		b == 't' || b == 'f' || b == 'n'
	if !jsonStart {
		return nil, false
	}

	var raw any
	if err := json.Unmarshal([]byte(input), &raw); err != nil {
		return nil, false
	}

	if m, ok := raw.(map[string]any); ok {
		return m, true
	}
	return map[string]any{"input": raw}, true
}

// parseYAMLArgs accepts YAML only when it carries real structure.
// Flat "key: value" lines go to the pair parser instead, which avoids
// claiming plain prose that happens to contain a colon.
func parseYAMLArgs(input string) (map[string]any, bool) {
	var result map[string]any
	if err := yaml.Unmarshal([]byte(input), &result); err != nil {
		return nil, false
	}
	if len(result) == 0 {
		return nil, false
	}

	for _, v := range result {
		switch v.(type) {
		case []any, map[string]any:
			return result, true
		}
	}
	return nil, false
}

// parsePairArgs parses "key: value" or "key=value" pairs separated by
// commas or newlines. If any part fails to parse, the whole input is
// rejected and falls through to the raw-string fallback. Values that
// themselves contain commas are mis-split here and land in the fallback
// too, which is lossy but safe.
func parsePairArgs(input string) (map[string]any, bool) {
	normalized := strings.ReplaceAll(input, "\n", ",")

	result := make(map[string]any)
	for _, part := range strings.Split(normalized, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := splitPair(part)
		if !ok {
			return nil, false
		}
		result[key] = coerceScalar(value)
	}

	if len(result) == 0 {
		return nil, false
	}
	return result, true
}

// splitPair splits one "key: value" or "key=value" fragment.
func splitPair(part string) (key, value string, ok bool) {
	for _, sep := range []string{":", "="} {
		if idx := strings.Index(part, sep); idx > 0 {
			k := strings.TrimSpace(part[:idx])
			v := strings.TrimSpace(part[idx+1:])
			if k != "" && !strings.Contains(k, " ") {
				return k, v, true
			}
		}
	}
	return "", "", false
}

// coerceScalar converts string values to the matching JSON type so a
// tool schema expecting a number or bool gets one.
func coerceScalar(s string) any {
	s = strings.TrimSpace(s)

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}

	// NaN and Inf parse as floats but are not valid JSON; keep as text.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return s
		}
		return f
	}

	return s
}
