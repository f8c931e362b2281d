package llmclient

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// cvScoreSchema and projectScoreSchema describe the JSON fragments the
// Engine expects back from the LLM for the CV and project scoring calls.
// Evaluate checks a parsed response against them and only logs a warning on
// a missing field; they do not drive generation.
var (
	cvScoreSchema      = reflectSchema(cvScorePayload{})
	projectScoreSchema = reflectSchema(projectScorePayload{})
)

type cvScorePayload struct {
	MatchRate         float64 `json:"matchRate"`
	ExperienceMatch   float64 `json:"experienceMatch"`
	OverallAssessment string  `json:"overallAssessment"`
}

type projectScorePayload struct {
	OverallScore         float64 `json:"overallScore"`
	TechnicalQuality     float64 `json:"technicalQuality"`
	ComplexityLevel      float64 `json:"complexityLevel"`
	DocumentationQuality float64 `json:"documentationQuality"`
	InnovationScore      float64 `json:"innovationScore"`
}

func reflectSchema(v any) *jsonschema.Schema {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	return reflector.Reflect(v)
}

// validateAgainstSchema checks that every required property name declared by
// schema is present in payload. It is a light, field-presence check rather
// than full JSON Schema validation: the Engine already tolerates partial or
// malformed payloads via its cast-based extraction, this just gives a named,
// loggable reason when a response is missing expected shape entirely.
func validateAgainstSchema(schema *jsonschema.Schema, payload map[string]any) error {
	if schema == nil || payload == nil {
		return fmt.Errorf("nil schema or payload")
	}
	for _, name := range schema.Required {
		if _, ok := payload[name]; !ok {
			return fmt.Errorf("missing required field %q", name)
		}
	}
	return nil
}
