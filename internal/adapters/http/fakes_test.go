package httpadapter

import (
	"context"
	"net/http"

	"github.com/kirillkom/arxiv-rag/internal/config"
	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

type searcherFake struct {
	results []domain.SearchResult
	err     error
	last    domain.SearchRequest
}

func (f *searcherFake) Search(_ context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type answerFake struct {
	answer    *domain.RAGAnswer
	err       error
	streamErr error
	events    []domain.StreamEvent
	last      domain.AnswerRequest
}

func (f *answerFake) GenerateAnswer(_ context.Context, req domain.AnswerRequest) (*domain.RAGAnswer, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if f.answer != nil {
		return f.answer, nil
	}
	return &domain.RAGAnswer{Answer: "ok", Sources: []domain.SourceRef{}, Mode: req.Mode}, nil
}

func (f *answerFake) StreamAnswer(ctx context.Context, req domain.AnswerRequest) (<-chan domain.StreamEvent, error) {
	f.last = req
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		for _, event := range f.events {
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type papersFake struct {
	papers map[string]*domain.Paper
}

func (f papersFake) GetByArxivID(_ context.Context, arxivID string) (*domain.Paper, error) {
	if paper, ok := f.papers[arxivID]; ok {
		return paper, nil
	}
	return nil, domain.NewError(domain.ErrPaperNotFound, "get paper", "arxiv_id="+arxivID)
}

func testConfig() config.Config {
	return config.Config{RAGSearchMode: "hybrid", RAGTopK: 5}
}

func newTestHandler(cfg config.Config, searcher *searcherFake, answers *answerFake) http.Handler {
	if searcher == nil {
		searcher = &searcherFake{}
	}
	if answers == nil {
		answers = &answerFake{}
	}
	return NewRouter(cfg, searcher, answers, papersFake{papers: map[string]*domain.Paper{
		"1706.03762":     {ArxivID: "1706.03762", Title: "Attention Is All You Need"},
		"hep-th/9901001": {ArxivID: "hep-th/9901001", Title: "Old style id"},
	}}).Handler()
}
