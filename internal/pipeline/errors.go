package pipeline

import "errors"

// Common errors returned by the pipeline package.
var (
	// ErrContentTooLarge is the distinguished signal that the input exceeded
	// the model's context capacity. It is the only failure the chunked
	// research loop treats as retryable; everything else propagates.
	ErrContentTooLarge = errors.New("content too large for a single model call")

	// ErrDocumentTooLong is returned when the chunk retry budget is exhausted
	// while the model still reports content-too-large.
	ErrDocumentTooLong = errors.New("document too long to process")

	// ErrPipelineFailed is returned for general model-side failures.
	ErrPipelineFailed = errors.New("pipeline run failed")

	// ErrRefineIncomplete is returned when the refinement loop exhausts its
	// attempt budget before the model produces a complete item list.
	ErrRefineIncomplete = errors.New("checklist refinement incomplete after maximum attempts")

	// ErrEmptyDocument is returned when a research call receives a document
	// with no text and no pages.
	ErrEmptyDocument = errors.New("document has no content")
)
