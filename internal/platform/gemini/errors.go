package gemini

import "errors"

// Sentinel errors for model call outcomes that callers may want to
// distinguish from ordinary transport failures.
var (
	// ErrContentBlocked indicates the model refused to answer because the
	// content was blocked by safety filters.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrInvalidResponse indicates the model returned something that could
	// not be interpreted as the expected structure.
	ErrInvalidResponse = errors.New("invalid model response")
)
