package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// maxRefineAttempts bounds the refinement repair loop.
const maxRefineAttempts = 5

// refineState is the explicit state of one refinement session: attempt count,
// accumulated items with exact-text dedup, and the completion flag.
type refineState struct {
	attempts int
	seen     map[string]struct{}
	refined  []string
	complete bool
}

func (s *refineState) add(items []string) {
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, dup := s.seen[item]; dup {
			continue
		}
		s.seen[item] = struct{}{}
		s.refined = append(s.refined, item)
	}
}

// RefineChecklist asks the refiner to rewrite a list of checklist items,
// repairing truncated model output instead of restarting. Each attempt passes
// the items accumulated so far as "already refined" context, so the model
// continues where the previous call was cut off. The loop is bounded at
// maxRefineAttempts; exhausting it returns the items gathered so far together
// with ErrRefineIncomplete.
func RefineChecklist(
	ctx context.Context,
	refiner ItemRefiner,
	items []string,
	logger *slog.Logger,
) ([]string, error) {
	state := &refineState{seen: make(map[string]struct{})}
	log := logger.With("component", "refine")

	for state.attempts < maxRefineAttempts && !state.complete {
		state.attempts++

		raw, err := refiner.RefineItems(ctx, items, state.refined)
		if err != nil {
			return state.refined, fmt.Errorf("refinement call failed: %w", err)
		}

		var parsed []string
		if jsonErr := json.Unmarshal([]byte(extractArray(raw)), &parsed); jsonErr == nil {
			state.add(parsed)
			state.complete = true
			break
		}

		// Truncated output: salvage the complete items and go around again.
		salvaged := repairTruncatedItems(raw)
		log.Warn("refinement output truncated, repaired",
			"attempt", state.attempts,
			"salvaged", len(salvaged))
		state.add(salvaged)
	}

	if !state.complete {
		return state.refined, fmt.Errorf("%w (%d attempts)", ErrRefineIncomplete, state.attempts)
	}
	return state.refined, nil
}

// extractArray trims any prose or code fencing around the first JSON array in
// the model output.
func extractArray(raw string) string {
	start := strings.Index(raw, "[")
	if start < 0 {
		return raw
	}
	end := strings.LastIndex(raw, "]")
	if end < start {
		return raw[start:]
	}
	return raw[start : end+1]
}

// repairTruncatedItems heuristically closes a truncated JSON string array:
// it decodes the complete string elements one token at a time and discards
// the final element, which may have been cut mid-string.
func repairTruncatedItems(raw string) []string {
	start := strings.Index(raw, "[")
	if start < 0 {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(raw[start:]))

	// Opening bracket.
	if _, err := dec.Token(); err != nil {
		return nil
	}

	var items []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if s, ok := tok.(string); ok {
			items = append(items, s)
		}
	}

	if len(items) == 0 {
		return nil
	}
	// The last decoded item may itself be partial; drop it.
	return items[:len(items)-1]
}
