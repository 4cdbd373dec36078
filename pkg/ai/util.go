package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// GenerateSchema creates a JSON Schema from the given Go type.
// It uses reflection to inspect the type structure and generates
// a schema suitable for use with AI structured output.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

// UnmarshalFlexible attempts to unmarshal JSON into the target with multiple
// fallback strategies: standard unmarshaling first, then double-encoded
// strings, then repair of malformed JSON. Model output often arrives with
// unquoted keys, trailing commas, or missing closing brackets.
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)
	input = stripCodeFence(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}

	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal failed after repair: input=%s repaired=%s", input, repaired)
	}

	return nil
}

// stripCodeFence removes a surrounding markdown code fence, with or without
// a language tag, from model output.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx != -1 {
		first := strings.TrimSpace(s[:idx])
		if first == "json" || first == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseBulletList extracts the items of a bullet or numbered list from model
// output. Symmetric quoting around an item is stripped; blank lines and
// non-list lines are ignored.
func ParseBulletList(text string) []string {
	items := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var item string
		switch {
		case strings.HasPrefix(line, "- "):
			item = line[2:]
		case strings.HasPrefix(line, "* "):
			item = line[2:]
		case strings.HasPrefix(line, "• "):
			item = strings.TrimPrefix(line, "• ")
		default:
			item = trimNumberedPrefix(line)
			if item == "" {
				continue
			}
		}

		item = StripSymmetricQuotes(strings.TrimSpace(item))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func trimNumberedPrefix(line string) string {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(line) {
		return ""
	}
	if line[i] != '.' && line[i] != ')' {
		return ""
	}
	return strings.TrimSpace(line[i+1:])
}

// StripSymmetricQuotes removes one layer of matching quotes wrapping the
// whole string.
func StripSymmetricQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if first != last {
		return s
	}
	if first == '"' || first == '\'' || first == '`' {
		return s[1 : len(s)-1]
	}
	return s
}
