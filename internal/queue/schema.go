package queue

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/docket-dev/docket/internal/domain"
)

// Per-type JSON schemas applied to task payloads at enqueue time. Catching a
// malformed payload here keeps it out of the durable queue entirely.
var payloadSchemas = map[domain.TaskType]string{
	domain.TaskTypeSmallReview:         reviewPayloadSchema,
	domain.TaskTypeLargeReview:         reviewPayloadSchema,
	domain.TaskTypeChecklistGeneration: checklistPayloadSchema,
}

const reviewPayloadSchema = `{
	"type": "object",
	"required": ["target_id", "space_id"],
	"properties": {
		"target_id": {"type": "string", "minLength": 36, "maxLength": 36},
		"space_id": {"type": "string", "minLength": 36, "maxLength": 36},
		"instruction": {"type": "string"},
		"retry": {"type": "boolean"}
	},
	"additionalProperties": false
}`

const checklistPayloadSchema = `{
	"type": "object",
	"required": ["space_id", "requirements"],
	"properties": {
		"space_id": {"type": "string", "minLength": 36, "maxLength": 36},
		"requirements": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`

// validatePayload checks a raw payload against the schema for its task type.
func validatePayload(taskType domain.TaskType, payload json.RawMessage) error {
	schema, ok := payloadSchemas[taskType]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownTaskType, taskType)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(payload),
	)
	if err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("invalid %s payload: %s", taskType, errs[0].String())
		}
		return fmt.Errorf("invalid %s payload", taskType)
	}
	return nil
}
