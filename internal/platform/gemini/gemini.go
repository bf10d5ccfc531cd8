// Package gemini implements the AI pipeline on Google's Gemini API. One
// Pipeline instance serves all tenants; each run creates a client bound to
// the tenant's credential.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/docket-dev/docket/internal/config"
	"github.com/docket-dev/docket/internal/domain"
	"github.com/docket-dev/docket/internal/events"
	"github.com/docket-dev/docket/internal/pipeline"
	"github.com/docket-dev/docket/internal/store"
)

// Pipeline implements pipeline.Pipeline using the Gemini API.
type Pipeline struct {
	cfg         config.LLMConfig
	parallelism int
	emitter     events.Emitter
	logger      *slog.Logger
}

// NewPipeline creates a Pipeline. chunkParallelism caps concurrent model
// calls within one research batch; the emitter may be nil.
func NewPipeline(cfg config.LLMConfig, chunkParallelism int, emitter events.Emitter, logger *slog.Logger) (*Pipeline, error) {
	if cfg.ModelName == "" {
		return nil, errors.New("model name cannot be empty")
	}
	if emitter == nil {
		emitter = events.NewNoopEmitter()
	}
	return &Pipeline{
		cfg:         cfg,
		parallelism: chunkParallelism,
		emitter:     emitter,
		logger:      logger.With("component", "gemini"),
	}, nil
}

// clientFor creates a client for the tenant's credential, falling back to
// the configured key when the provider supplied none.
func (p *Pipeline) clientFor(ctx context.Context, credential string) (*genai.Client, error) {
	apiKey := credential
	if apiKey == "" {
		apiKey = p.cfg.GeminiAPIKey
	}
	if apiKey == "" {
		return nil, errors.New("no API credential available")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// RunReview reviews every file of the run against its instruction. Small
// reviews make one model call per file; large reviews research the document
// in chunks first and derive the verdict from the combined findings.
func (p *Pipeline) RunReview(ctx context.Context, run *pipeline.ReviewRun) error {
	client, err := p.clientFor(ctx, run.Credential)
	if err != nil {
		return err
	}

	log := p.logger.With("task_id", run.TaskID, "target_id", run.TargetID)

	for _, buf := range run.Buffers {
		doc, seedChunks, err := p.resolveDocument(ctx, run, buf)
		if err != nil {
			return fmt.Errorf("failed to prepare %q: %w", buf.File.DisplayName, err)
		}

		if run.Large {
			if err := p.reviewLarge(ctx, client, run, doc, buf.File.ID, seedChunks, log); err != nil {
				return err
			}
			continue
		}
		if err := p.reviewSmall(ctx, client, run, doc); err != nil {
			return err
		}
	}
	return nil
}

// resolveDocument returns the extracted form of one file buffer and the chunk
// count to seed research with. Retries load the cached extraction; fresh runs
// extract and cache it.
func (p *Pipeline) resolveDocument(
	ctx context.Context,
	run *pipeline.ReviewRun,
	buf *pipeline.FileBuffer,
) (*pipeline.Document, int, error) {
	if run.Retry && run.LoadCachedDocument != nil {
		cache, err := run.LoadCachedDocument(ctx, buf.File.ID)
		switch {
		case err == nil:
			doc := &pipeline.Document{Name: cache.FileName, Text: cache.Text, Pages: cache.Pages}
			if len(doc.Pages) == 0 && cache.Mode == domain.FileModeImage {
				// Page images live in the file store, not the cache row.
				doc.Pages = buf.Pages
			}
			return doc, p.seedChunkCount(ctx, run, buf.File.ID, cache.ChunkCount), nil
		case errors.Is(err, store.ErrDocumentCacheNotFound):
			// No cache from the original run; extract fresh.
		default:
			return nil, 0, err
		}
	}

	doc := &pipeline.Document{Name: buf.File.DisplayName}
	if buf.File.Mode == domain.FileModeImage {
		doc.Pages = buf.Pages
		if len(doc.Pages) == 0 && len(buf.Data) > 0 {
			doc.Pages = [][]byte{buf.Data}
		}
	} else {
		text, err := run.ExtractDocument(ctx, buf.File.ID)
		if err != nil {
			return nil, 0, err
		}
		doc.Text = text
	}

	if run.CacheDocument != nil {
		cache := &domain.DocumentCache{
			FileID:     buf.File.ID,
			FileName:   buf.File.DisplayName,
			Mode:       buf.File.Mode,
			Text:       doc.Text,
			Pages:      doc.Pages,
			ChunkCount: 1,
			UpdatedAt:  time.Now(),
		}
		if err := run.CacheDocument(ctx, cache); err != nil {
			return nil, 0, err
		}
	}
	return doc, p.seedChunkCount(ctx, run, buf.File.ID, 1), nil
}

// seedChunkCount raises the seed to the largest chunk count past research of
// the same file settled on, so a document that needed splitting before is not
// researched whole again.
func (p *Pipeline) seedChunkCount(ctx context.Context, run *pipeline.ReviewRun, fileID uuid.UUID, seed int) int {
	if run.MaxChunkCount == nil {
		return seed
	}
	recorded, err := run.MaxChunkCount(ctx, fileID)
	if err != nil {
		p.logger.Warn("failed to load recorded chunk count",
			"file_id", fileID, "error", err)
		return seed
	}
	if recorded > seed {
		return recorded
	}
	return seed
}

func (p *Pipeline) reviewSmall(
	ctx context.Context,
	client *genai.Client,
	run *pipeline.ReviewRun,
	doc *pipeline.Document,
) error {
	parts := []*genai.Part{genai.NewPartFromText(reviewPrompt(run.Instruction, doc.Name))}
	if doc.Text != "" {
		parts = append(parts, genai.NewPartFromText(doc.Text))
	}
	for _, page := range doc.Pages {
		parts = append(parts, genai.NewPartFromBytes(page, "image/png"))
	}

	raw, err := p.generate(ctx, client, parts)
	if err != nil {
		return err
	}
	return p.saveVerdict(ctx, run, doc.Name, raw)
}

func (p *Pipeline) reviewLarge(
	ctx context.Context,
	client *genai.Client,
	run *pipeline.ReviewRun,
	doc *pipeline.Document,
	fileID uuid.UUID,
	seedChunks int,
	log *slog.Logger,
) error {
	researcher := pipeline.NewResearcher(&chunkCaller{p: p, client: client}, p.parallelism, p.emitter, p.logger)

	var findings []pipeline.ChunkFinding
	outcome, err := researcher.Research(ctx, run.TaskID, doc, run.Instruction, seedChunks,
		func(_ context.Context, chunk pipeline.Chunk, result string) {
			findings = append(findings, pipeline.ChunkFinding{
				FileName:     chunk.DocumentName,
				CheckContent: run.Instruction,
				ChunkIndex:   chunk.Index,
				ChunkTotal:   chunk.Total,
				Content:      result,
			})
		})
	if err != nil {
		return err
	}

	if run.RecordChunkCount != nil && outcome.ChunkCount > seedChunks {
		if err := run.RecordChunkCount(ctx, fileID, outcome.ChunkCount); err != nil {
			log.Warn("failed to record settled chunk count",
				"file_id", fileID,
				"chunk_count", outcome.ChunkCount,
				"error", err)
		}
	}

	raw, err := p.generate(ctx, client, []*genai.Part{
		genai.NewPartFromText(verdictFromResearchPrompt(run.Instruction, doc.Name, outcome.Text)),
	})
	if err != nil {
		return err
	}
	if err := p.saveVerdict(ctx, run, doc.Name, raw); err != nil {
		return err
	}

	// Chunk findings reference the saved result, so they persist after it.
	if run.OnChunkFinding != nil {
		for _, finding := range findings {
			if err := run.OnChunkFinding(ctx, finding); err != nil {
				log.Warn("failed to persist chunk finding",
					"chunk", finding.ChunkIndex,
					"error", err)
			}
		}
	}
	return nil
}

// GenerateChecklist drafts checklist items from the run's documents and
// requirements, then refines them through the repair loop.
func (p *Pipeline) GenerateChecklist(ctx context.Context, run *pipeline.ChecklistRun) ([]*domain.ChecklistItem, error) {
	client, err := p.clientFor(ctx, run.Credential)
	if err != nil {
		return nil, err
	}

	parts := []*genai.Part{genai.NewPartFromText(checklistPrompt(run.Requirements))}
	for _, buf := range run.Buffers {
		if buf.File.Mode == domain.FileModeImage {
			for _, page := range buf.Pages {
				parts = append(parts, genai.NewPartFromBytes(page, "image/png"))
			}
			continue
		}
		parts = append(parts, genai.NewPartFromText(fmt.Sprintf("\n--- %s ---\n%s", buf.File.DisplayName, buf.Data)))
	}

	raw, err := p.generate(ctx, client, parts)
	if err != nil {
		return nil, err
	}

	draft, err := parseStringArray(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse draft items: %v", ErrInvalidResponse, err)
	}
	if len(draft) == 0 {
		return nil, fmt.Errorf("%w: model produced no checklist items", ErrInvalidResponse)
	}

	refined, err := pipeline.RefineChecklist(ctx, &itemRefiner{p: p, client: client}, draft, p.logger)
	if err != nil {
		if !errors.Is(err, pipeline.ErrRefineIncomplete) || len(refined) == 0 {
			return nil, err
		}
		p.logger.Warn("refinement incomplete, keeping salvaged items",
			"task_id", run.TaskID,
			"items", len(refined))
	}

	items := make([]*domain.ChecklistItem, 0, len(refined))
	now := time.Now()
	for _, content := range refined {
		items = append(items, &domain.ChecklistItem{
			SpaceID:   run.SpaceID,
			Content:   content,
			CreatedAt: now,
		})
	}

	p.emit(ctx, events.EventChecklistGenerated, run.TaskID, map[string]interface{}{
		"space_id": run.SpaceID,
		"items":    len(items),
	})
	return items, nil
}

// chunkCaller binds one research session to a tenant's client.
type chunkCaller struct {
	p      *Pipeline
	client *genai.Client
}

func (c *chunkCaller) ResearchChunk(ctx context.Context, chunk pipeline.Chunk, instruction string) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(chunkResearchPrompt(instruction, chunk.Index, chunk.Total, chunk.DocumentName))}
	if chunk.Text != "" {
		parts = append(parts, genai.NewPartFromText(chunk.Text))
	}
	for _, page := range chunk.Pages {
		parts = append(parts, genai.NewPartFromBytes(page, "image/png"))
	}
	return c.p.generate(ctx, c.client, parts)
}

// itemRefiner binds one refinement session to a tenant's client.
type itemRefiner struct {
	p      *Pipeline
	client *genai.Client
}

func (r *itemRefiner) RefineItems(ctx context.Context, pending []string, alreadyRefined []string) (string, error) {
	return r.p.generate(ctx, r.client, []*genai.Part{genai.NewPartFromText(refinePrompt(pending, alreadyRefined))})
}

// generate makes one model call and returns the concatenated text of the
// first candidate. Capacity failures come back wrapping
// pipeline.ErrContentTooLarge so the research loop can grow the chunk count.
func (p *Pipeline) generate(ctx context.Context, client *genai.Client, parts []*genai.Part) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := client.Models.GenerateContent(ctx, p.cfg.ModelName, contents, nil)
	if err != nil {
		if isContentTooLarge(err) {
			return "", fmt.Errorf("%w: %v", pipeline.ErrContentTooLarge, err)
		}
		return "", fmt.Errorf("model call failed: %w", err)
	}
	return textFromResponse(resp)
}

// textFromResponse concatenates the text parts of the first candidate,
// distinguishing safety blocks from structurally invalid responses.
func textFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: empty text in response", ErrInvalidResponse)
	}
	return b.String(), nil
}

// verdictSchema is the JSON structure review calls must respond with.
type verdictSchema struct {
	Verdict     string `json:"verdict"`
	Explanation string `json:"explanation"`
}

func (p *Pipeline) saveVerdict(ctx context.Context, run *pipeline.ReviewRun, fileName, raw string) error {
	var v verdictSchema
	if err := json.Unmarshal([]byte(extractObject(raw)), &v); err != nil {
		return fmt.Errorf("%w: failed to parse verdict: %v", ErrInvalidResponse, err)
	}
	if v.Verdict == "" {
		return fmt.Errorf("%w: verdict missing", ErrInvalidResponse)
	}

	return run.OnResult(ctx, &domain.ReviewResult{
		FileName:     fileName,
		CheckContent: run.Instruction,
		Verdict:      v.Verdict,
		Explanation:  v.Explanation,
		CreatedAt:    time.Now(),
	})
}

// contentTooLargeMarkers are substrings of API error messages that indicate
// the request exceeded the model's context capacity.
var contentTooLargeMarkers = []string{
	"exceeds the maximum number of tokens",
	"token count",
	"context length",
	"request payload size",
	"input is too long",
}

func isContentTooLarge(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range contentTooLargeMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// extractObject trims any prose or code fencing around the first JSON object
// in the model output.
func extractObject(raw string) string {
	start := strings.Index(raw, "{")
	if start < 0 {
		return raw
	}
	end := strings.LastIndex(raw, "}")
	if end < start {
		return raw[start:]
	}
	return raw[start : end+1]
}

func parseStringArray(raw string) ([]string, error) {
	start := strings.Index(raw, "[")
	if start < 0 {
		return nil, errors.New("no JSON array in output")
	}
	end := strings.LastIndex(raw, "]")
	if end < start {
		return nil, errors.New("unterminated JSON array in output")
	}

	var items []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *Pipeline) emit(ctx context.Context, t events.EventType, taskID uuid.UUID, payload map[string]interface{}) {
	event, err := events.NewProgressEvent(t, taskID, payload)
	if err != nil {
		return
	}
	if err := p.emitter.Emit(ctx, event); err != nil {
		p.logger.Debug("progress event dropped", "event_type", t, "error", err)
	}
}
