package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docket-dev/docket/internal/events"
)

// Research bounds. A session may increment its chunk count at most
// maxChunkRetries times, giving maxChunkRetries+1 attempts total.
const (
	maxChunkRetries         = 5
	defaultChunkParallelism = 5
)

// ResearchOutcome is the terminal result of one chunked research session.
type ResearchOutcome struct {
	// Text is the concatenation of all chunk results, each prefixed with the
	// document name and, when more than one chunk was used, its chunk index.
	Text string

	// ChunkCount is the chunk count the session settled on; callers record
	// it so the next research of the same document starts there.
	ChunkCount int

	// Retries is how many chunk-count increments the session needed.
	Retries int
}

// Researcher runs the adaptive chunk-and-retry algorithm over one document:
// split into N chunks, research them with bounded parallelism, and on a
// content-too-large signal grow N and try again, up to the retry bound.
type Researcher struct {
	chunks      ChunkResearcher
	parallelism int
	emitter     events.Emitter
	logger      *slog.Logger
}

// NewResearcher creates a Researcher. A parallelism below 1 falls back to the
// default. The emitter may be a NoopEmitter; it is never nil-checked.
func NewResearcher(chunks ChunkResearcher, parallelism int, emitter events.Emitter, logger *slog.Logger) *Researcher {
	if parallelism < 1 {
		parallelism = defaultChunkParallelism
	}
	if emitter == nil {
		emitter = events.NewNoopEmitter()
	}
	return &Researcher{
		chunks:      chunks,
		parallelism: parallelism,
		emitter:     emitter,
		logger:      logger.With("component", "researcher"),
	}
}

// ChunkHook observes each successful chunk of the final batch, letting
// callers persist per-chunk detail. Hooks run after the batch has succeeded.
type ChunkHook func(ctx context.Context, chunk Chunk, result string)

// Research researches one document against a free-form instruction.
// initialChunks seeds the chunk count from prior runs of the same document;
// values below 1 start at 1. The chunk count never decreases within a
// session. onChunk may be nil.
func (r *Researcher) Research(
	ctx context.Context,
	taskID uuid.UUID,
	doc *Document,
	instruction string,
	initialChunks int,
	onChunk ChunkHook,
) (*ResearchOutcome, error) {
	if doc.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, doc.Name)
	}

	total := initialChunks
	if total < 1 {
		total = 1
	}

	log := r.logger.With("task_id", taskID, "document", doc.Name)
	r.emit(ctx, events.EventResearchStarted, taskID, map[string]interface{}{
		"document":       doc.Name,
		"initial_chunks": total,
	})

	for retry := 0; ; retry++ {
		chunks := doc.Split(total)
		log.Info("researching document",
			"total_chunks", len(chunks),
			"retry", retry)

		results, tooLarge, err := r.researchBatch(ctx, taskID, chunks, instruction)
		if err != nil {
			// Non-size failure from any chunk stops the session immediately.
			r.emit(ctx, events.EventResearchCompleted, taskID, map[string]interface{}{
				"document": doc.Name,
				"success":  false,
			})
			return nil, err
		}

		if tooLarge {
			if retry >= maxChunkRetries {
				log.Warn("chunk retry budget exhausted", "total_chunks", total)
				r.emit(ctx, events.EventResearchCompleted, taskID, map[string]interface{}{
					"document": doc.Name,
					"success":  false,
				})
				return nil, fmt.Errorf("%w: %s (tried %d chunks)", ErrDocumentTooLong, doc.Name, total)
			}
			total++
			r.emit(ctx, events.EventResearchProgress, taskID, map[string]interface{}{
				"document":     doc.Name,
				"total_chunks": total,
				"retry":        retry + 1,
			})
			continue
		}

		if onChunk != nil {
			for i, chunk := range chunks {
				onChunk(ctx, chunk, results[i])
			}
		}

		outcome := &ResearchOutcome{
			Text:       combineChunkResults(chunks, results),
			ChunkCount: total,
			Retries:    retry,
		}
		r.emit(ctx, events.EventResearchCompleted, taskID, map[string]interface{}{
			"document":     doc.Name,
			"success":      true,
			"total_chunks": total,
		})
		return outcome, nil
	}
}

// researchBatch runs one full batch of chunk calls with bounded parallelism.
// It waits for the whole batch before reporting. A content-too-large signal
// from any chunk sets tooLarge; any other failure is returned as err.
func (r *Researcher) researchBatch(
	ctx context.Context,
	taskID uuid.UUID,
	chunks []Chunk,
	instruction string,
) (results []string, tooLarge bool, err error) {
	results = make([]string, len(chunks))
	var oversized atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for i := range chunks {
		chunk := chunks[i]
		idx := i
		g.Go(func() error {
			out, chunkErr := r.chunks.ResearchChunk(gctx, chunk, instruction)
			if chunkErr != nil {
				if errors.Is(chunkErr, ErrContentTooLarge) {
					// Not an error from the retry loop's perspective; note it
					// and let the rest of the batch finish.
					oversized.Store(true)
					return nil
				}
				return fmt.Errorf("chunk %d/%d of %q failed: %w",
					chunk.Index+1, chunk.Total, chunk.DocumentName, chunkErr)
			}
			results[idx] = out
			r.emit(gctx, events.EventAnswerFragment, taskID, map[string]interface{}{
				"document": chunk.DocumentName,
				"chunk":    chunk.Index + 1,
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	return results, oversized.Load(), nil
}

// combineChunkResults concatenates chunk outputs, labeling each with the
// document name and, for multi-chunk sessions, the chunk position.
func combineChunkResults(chunks []Chunk, results []string) string {
	var b strings.Builder
	for i, chunk := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if chunk.Total > 1 {
			fmt.Fprintf(&b, "[%s %d/%d]\n", chunk.DocumentName, chunk.Index+1, chunk.Total)
		} else {
			fmt.Fprintf(&b, "[%s]\n", chunk.DocumentName)
		}
		b.WriteString(results[i])
	}
	return b.String()
}

func (r *Researcher) emit(ctx context.Context, t events.EventType, taskID uuid.UUID, payload map[string]interface{}) {
	event, err := events.NewProgressEvent(t, taskID, payload)
	if err != nil {
		return
	}
	if err := r.emitter.Emit(ctx, event); err != nil {
		r.logger.Debug("progress event dropped", "event_type", t, "error", err)
	}
}
