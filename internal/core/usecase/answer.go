package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
	"github.com/kirillkom/arxiv-rag/internal/core/ports"
)

const (
	DefaultAnswerMaxTokens   = 1000
	DefaultAnswerTemperature = 0.7
	DefaultLLMTimeout        = 60 * time.Second
)

type AnswerOptions struct {
	MaxTokens   int
	Temperature float64
	// LLMTimeout bounds a single model call; 0 leaves only the caller's deadline.
	LLMTimeout time.Duration
	// RetrievalTimeout bounds the search that feeds the prompt, including query embedding.
	RetrievalTimeout time.Duration
}

func DefaultAnswerOptions() AnswerOptions {
	return AnswerOptions{
		MaxTokens:   DefaultAnswerMaxTokens,
		Temperature: DefaultAnswerTemperature,
		LLMTimeout:  DefaultLLMTimeout,
	}
}

// AnswerUseCase retrieves papers for a question and asks the language model for a cited answer.
type AnswerUseCase struct {
	searcher ports.PaperSearcher
	llm      ports.LanguageModel
	opts     AnswerOptions
	now      func() time.Time
}

func NewAnswerUseCase(searcher ports.PaperSearcher, llm ports.LanguageModel, opts AnswerOptions) *AnswerUseCase {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultAnswerMaxTokens
	}
	return &AnswerUseCase{
		searcher: searcher,
		llm:      llm,
		opts:     opts,
		now:      time.Now,
	}
}

func (uc *AnswerUseCase) GenerateAnswer(ctx context.Context, req domain.AnswerRequest) (*domain.RAGAnswer, error) {
	results, mode, err := uc.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return &domain.RAGAnswer{
			Answer:      domain.NoResultsAnswer,
			Sources:     []domain.SourceRef{},
			Mode:        mode,
			GeneratedAt: uc.now().UTC(),
		}, nil
	}

	llmCtx, cancel := uc.withLLMTimeout(ctx)
	defer cancel()

	text, err := uc.llm.Complete(llmCtx, uc.completionRequest(req.Query, results))
	if err != nil {
		return nil, wrapModelError("generate answer", err)
	}

	return &domain.RAGAnswer{
		Answer:      ensureCitations(text, results),
		Sources:     toSourceRefs(results),
		Mode:        mode,
		GeneratedAt: uc.now().UTC(),
	}, nil
}

// StreamAnswer validates and retrieves before returning, then streams model fragments
// over an unbuffered channel. The channel always ends with a Sources section and is
// closed by the producer. Cancelling ctx stops the producer and the upstream request.
func (uc *AnswerUseCase) StreamAnswer(ctx context.Context, req domain.AnswerRequest) (<-chan domain.StreamEvent, error) {
	results, _, err := uc.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan domain.StreamEvent)
	if len(results) == 0 {
		go func() {
			defer close(events)
			_ = sendEvent(ctx, events, domain.StreamEvent{Text: domain.NoResultsAnswer})
		}()
		return events, nil
	}

	completion := uc.completionRequest(req.Query, results)
	go func() {
		defer close(events)

		llmCtx, cancel := uc.withLLMTimeout(ctx)
		defer cancel()

		err := uc.llm.CompleteStream(llmCtx, completion, func(fragment string) error {
			if fragment == "" {
				return nil
			}
			return sendEvent(ctx, events, domain.StreamEvent{Text: fragment})
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			_ = sendEvent(ctx, events, domain.StreamEvent{Err: wrapModelError("stream answer", err)})
			return
		}

		_ = sendEvent(ctx, events, domain.StreamEvent{Text: "\n\n" + formatSources(results)})
	}()

	return events, nil
}

func (uc *AnswerUseCase) retrieve(ctx context.Context, req domain.AnswerRequest) ([]domain.SearchResult, domain.SearchMode, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, "", domain.NewError(domain.ErrEmptyInput, "answer", "query is empty")
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.SearchModeHybrid
	}

	searchCtx, cancel := withOptionalTimeout(ctx, uc.opts.RetrievalTimeout)
	defer cancel()

	searchReq := req.SearchRequest()
	searchReq.Mode = mode
	results, err := uc.searcher.Search(searchCtx, searchReq)
	if err != nil {
		return nil, "", fmt.Errorf("answer: %w", err)
	}
	return results, mode, nil
}

func (uc *AnswerUseCase) completionRequest(question string, results []domain.SearchResult) domain.CompletionRequest {
	return domain.CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   buildAnswerPrompt(question, results),
		MaxTokens:    uc.opts.MaxTokens,
		Temperature:  uc.opts.Temperature,
	}
}

func (uc *AnswerUseCase) withLLMTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withOptionalTimeout(ctx, uc.opts.LLMTimeout)
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func sendEvent(ctx context.Context, events chan<- domain.StreamEvent, event domain.StreamEvent) error {
	select {
	case events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func wrapModelError(operation string, err error) error {
	if domain.IsKind(err, domain.ErrUpstreamModel) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return domain.WrapError(domain.ErrUpstreamModel, operation, err)
}
