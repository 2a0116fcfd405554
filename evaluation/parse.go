package evaluation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
	"github.com/goccy/go-json"
	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// StructuredParser decodes judge output against a strict JSON schema.
//
// Judges are asked for a single JSON object but routinely wrap it in prose,
// markdown fences or trailing commas. Parse extracts the outermost object,
// repairs it when it does not decode, validates it, and only then decodes it
// into the caller's struct. Every failure is reported as a *agentqa.ParseError
// so callers can fall back to their documented default.
type StructuredParser struct {
	source string
	schema *jsonschema.Schema
}

// NewStructuredParser compiles schemaJSON. source names the producer in
// parse errors ("grader", "verifier", "coverage").
func NewStructuredParser(source, schemaJSON string) (*StructuredParser, error) {
	var doc any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s schema: %w", source, err)
	}

	name := source + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("failed to add %s schema: %w", source, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s schema: %w", source, err)
	}
	return &StructuredParser{source: source, schema: schema}, nil
}

// MustStructuredParser is NewStructuredParser for package-level schemas.
func MustStructuredParser(source, schemaJSON string) *StructuredParser {
	p, err := NewStructuredParser(source, schemaJSON)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse decodes raw into out.
func (p *StructuredParser) Parse(raw string, out any) error {
	candidate := extractObject(raw)
	if candidate == "" {
		return agentqa.NewParseError(p.source, raw, errors.New("no JSON object found"))
	}

	var doc any
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return agentqa.NewParseError(p.source, raw, fmt.Errorf("repair failed: %w", repairErr))
		}
		if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
			return agentqa.NewParseError(p.source, raw, err)
		}
		candidate = repaired
	}

	if err := p.schema.Validate(doc); err != nil {
		return agentqa.NewParseError(p.source, raw, err)
	}
	if err := json.Unmarshal([]byte(candidate), out); err != nil {
		return agentqa.NewParseError(p.source, raw, err)
	}
	return nil
}

// extractObject returns the text between the first '{' and the last '}',
// or the remainder after the first '{' when the object is truncated.
func extractObject(raw string) string {
	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(raw, "}")
	if end < start {
		return raw[start:]
	}
	return raw[start : end+1]
}

// bareScore matches a standalone number: never part of a longer number,
// a word, or a negative value.
var bareScore = regexp.MustCompile(`(?:^|[^\w.\-])((?:100|[1-9]?[0-9])(?:\.[0-9]+)?)(?:[^\w.]|\.(?:\s|$)|$)`)

// ParseScore finds the first standalone number in raw and accepts it when
// it lies in [0, 100]. It accepts the plain "85" answers older judges
// return instead of JSON. Text that contains a JSON object is not a bare
// score.
func ParseScore(raw string) (float64, bool) {
	if extractObject(raw) != "" {
		return 0, false
	}
	match := bareScore.FindStringSubmatch(raw)
	if match == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(match[1], 64)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}
