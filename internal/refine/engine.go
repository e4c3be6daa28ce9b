// Package refine runs the LLM passes that turn a raw transcript into a
// refined transcript and an executive summary.
package refine

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	"github.com/voxlens/voxlens/internal/llm"
	"github.com/voxlens/voxlens/internal/textproc"
)

const refinementPrompt = `You are an expert transcription editor. Refine the given transcript chunk:
1. Preserve the original meaning and language. Do not translate.
2. Fix grammar, punctuation and obvious transcription errors.
3. Do not summarize or drop content.
4. Keep speaker labels like [SPEAKER_00]: exactly as they appear.
Immediately respond with the refined text. Do not add anything else.`

const carryOverPrompt = `Summarize the following transcript excerpt in 2-3 sentences so the next editing pass has context. Keep the original language.`

const intermediateSummaryPrompt = `Summarize the following transcript section in about 150 words. Business tone, preserve the original language. This is an intermediate summary that will be combined with others.`

const finalSummaryPrompt = `Write an executive summary of the following transcript in 250-300 words. Business tone, preserve the original language. Cover the key topics, decisions and action items.`

// Engine orchestrates chunked refinement with carry-over context and a
// hierarchical summarization pass. Any LLM failure aborts the run; partial
// output is discarded by the caller.
type Engine struct {
	llm         llm.ChatCompleter
	model       string
	fastModel   string
	temperature float32

	chunkBudget   int // tokens per refinement chunk
	summaryBudget int // tokens per intermediate-summary chunk
	directLimit   int // refined texts at or below this summarize in one call

	log *slog.Logger
}

type Option func(*Engine)

func WithChunkBudget(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkBudget = n
		}
	}
}

func WithSummaryBudget(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.summaryBudget = n
		}
	}
}

func WithDirectSummaryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.directLimit = n
		}
	}
}

func NewEngine(completer llm.ChatCompleter, model, fastModel string, temperature float32, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		llm:           completer,
		model:         model,
		fastModel:     fastModel,
		temperature:   temperature,
		chunkBudget:   1500,
		summaryBudget: 3000,
		directLimit:   3000,
		log:           log,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RefineTranscript refines the text chunk by chunk. Each chunk after the
// first is given a short summary of the previous chunk's refined output as
// context, so sentence boundaries between chunks stay coherent.
func (e *Engine) RefineTranscript(ctx context.Context, text string) (string, error) {
	chunks := textproc.ChunkText(text, e.chunkBudget)
	if len(chunks) == 0 {
		return "", nil
	}
	e.log.Info("refine.start", "chunks", len(chunks), "tokens", textproc.EstimateTokens(text))

	var refined []string
	carryOver := ""
	for i, chunk := range chunks {
		prompt := chunk
		if carryOver != "" {
			prompt = fmt.Sprintf("Context from the previous part:\n%s\n\nRefine this part:\n%s", carryOver, chunk)
		}
		out, err := e.llm.ChatComplete(ctx, e.model, refinementPrompt, prompt, e.temperature)
		if err != nil {
			return "", fmt.Errorf("refine chunk %d/%d: %w", i+1, len(chunks), err)
		}
		refined = append(refined, out)

		if i < len(chunks)-1 {
			carryOver, err = e.llm.ChatComplete(ctx, e.fastModel, carryOverPrompt, out, e.temperature)
			if err != nil {
				return "", fmt.Errorf("carry-over summary after chunk %d: %w", i+1, err)
			}
		}
	}
	return strings.Join(refined, " "), nil
}

// Summarize produces the executive summary. Short texts go through a single
// call; long ones are summarized per paragraph-chunk and the concatenation
// condensed by one final pass.
func (e *Engine) Summarize(ctx context.Context, refined string) (string, error) {
	if strings.TrimSpace(refined) == "" {
		return "", nil
	}
	if textproc.EstimateTokens(refined) <= e.directLimit {
		return e.llm.ChatComplete(ctx, e.model, finalSummaryPrompt, refined, e.temperature)
	}

	chunks := textproc.ChunkByParagraph(refined, e.summaryBudget)
	e.log.Info("summarize.hierarchical", "chunks", len(chunks))

	var parts []string
	for i, chunk := range chunks {
		part, err := e.llm.ChatComplete(ctx, e.model, intermediateSummaryPrompt, chunk, e.temperature)
		if err != nil {
			return "", fmt.Errorf("intermediate summary %d/%d: %w", i+1, len(chunks), err)
		}
		parts = append(parts, part)
	}
	return e.llm.ChatComplete(ctx, e.model, finalSummaryPrompt, strings.Join(parts, "\n\n"), e.temperature)
}

// Process runs both passes and returns the refined transcript and summary.
func (e *Engine) Process(ctx context.Context, text string) (string, string, error) {
	refined, err := e.RefineTranscript(ctx, text)
	if err != nil {
		return "", "", err
	}
	summary, err := e.Summarize(ctx, refined)
	if err != nil {
		return "", "", err
	}
	return refined, summary, nil
}
