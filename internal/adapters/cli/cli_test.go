package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/arxiv-rag/internal/config"
	"github.com/kirillkom/arxiv-rag/internal/core/domain"
	"github.com/kirillkom/arxiv-rag/internal/core/usecase"
)

type searcherStub struct {
	last    domain.SearchRequest
	results []domain.SearchResult
	err     error
}

func (s *searcherStub) Search(_ context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	s.last = req
	return s.results, s.err
}

type answersStub struct {
	answer string
	events []domain.StreamEvent
}

func (a *answersStub) GenerateAnswer(_ context.Context, req domain.AnswerRequest) (*domain.RAGAnswer, error) {
	return &domain.RAGAnswer{Answer: a.answer, Mode: req.Mode}, nil
}

func (a *answersStub) StreamAnswer(_ context.Context, _ domain.AnswerRequest) (<-chan domain.StreamEvent, error) {
	out := make(chan domain.StreamEvent, len(a.events))
	for _, event := range a.events {
		out <- event
	}
	close(out)
	return out, nil
}

type ingestorStub struct {
	papers []domain.Paper
}

func (i *ingestorStub) Ingest(_ context.Context, papers []domain.Paper) (domain.IngestReport, error) {
	i.papers = papers
	report := domain.IngestReport{Received: len(papers)}
	for _, paper := range papers {
		report.Stored++
		report.StoredIDs = append(report.StoredIDs, paper.ArxivID)
	}
	return report, nil
}

type indexerStub struct {
	ids    []string
	failed map[string]error
}

func (i *indexerStub) IndexAll(_ context.Context, ids []string) (usecase.BulkIndexReport, error) {
	i.ids = ids
	report := usecase.BulkIndexReport{Failed: map[string]error{}}
	for _, id := range ids {
		if err, ok := i.failed[id]; ok {
			report.Failed[id] = err
			continue
		}
		report.Papers = append(report.Papers, domain.IndexReport{ArxivID: id, ChunksTotal: 3, ChunksEmbedded: 3})
	}
	return report, nil
}

type harness struct {
	searcher  *searcherStub
	answers   *answersStub
	ingestor  *ingestorStub
	indexer   *indexerStub
	withQueue []bool
	closed    int
}

func newHarness() *harness {
	return &harness{
		searcher: &searcherStub{},
		answers:  &answersStub{},
		ingestor: &ingestorStub{},
		indexer:  &indexerStub{},
	}
}

func (h *harness) factory(_ context.Context, withQueue bool) (*Services, error) {
	h.withQueue = append(h.withQueue, withQueue)
	cfg := config.Defaults()
	return &Services{
		Config:   cfg,
		Searcher: h.searcher,
		Answers:  h.answers,
		Ingestor: h.ingestor,
		Indexer:  h.indexer,
		Close:    func() { h.closed++ },
	}, nil
}

func execute(t *testing.T, factory Factory, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(factory)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSearchCommandPrintsRankedResults(t *testing.T) {
	h := newHarness()
	h.searcher.results = []domain.SearchResult{{
		Paper: domain.Paper{
			ArxivID:     "1706.03762",
			Title:       "Attention Is All You Need",
			Authors:     []string{"Ashish Vaswani", "Noam Shazeer"},
			PublishedAt: time.Date(2017, 6, 12, 0, 0, 0, 0, time.UTC),
		},
		Score: 0.0328,
		Mode:  domain.SearchModeHybrid,
	}}

	out, err := execute(t, h.factory, "search", "transformer attention", "--mode", "keyword", "-k", "3", "--category", "cs.CL")
	require.NoError(t, err)

	assert.Contains(t, out, "[1] Attention Is All You Need (0.0328)")
	assert.Contains(t, out, "1706.03762 | Ashish Vaswani, Noam Shazeer | 2017-06-12")
	assert.Equal(t, domain.SearchRequest{Query: "transformer attention", Mode: domain.SearchModeKeyword, TopK: 3, Category: "cs.CL"}, h.searcher.last)
	assert.Equal(t, []bool{false}, h.withQueue)
	assert.Equal(t, 1, h.closed)
}

func TestSearchCommandJSONOutput(t *testing.T) {
	h := newHarness()
	h.searcher.results = []domain.SearchResult{{Paper: domain.Paper{ArxivID: "2401.00001", Title: "T"}, Score: 0.5, Mode: domain.SearchModeKeyword}}

	out, err := execute(t, h.factory, "search", "q", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"arxiv_id": "2401.00001"`)
	assert.Equal(t, domain.SearchModeHybrid, h.searcher.last.Mode)
}

func TestSearchCommandRejectsUnknownMode(t *testing.T) {
	h := newHarness()
	_, err := execute(t, h.factory, "search", "q", "--mode", "fuzzy")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestSearchCommandRequiresQuery(t *testing.T) {
	h := newHarness()
	_, err := execute(t, h.factory, "search")
	require.Error(t, err)
	assert.Empty(t, h.withQueue, "services must not start on argument errors")
}

func TestSearchCommandWrapsServiceError(t *testing.T) {
	h := newHarness()
	h.searcher.err = domain.NewError(domain.ErrStoreAccess, "search", "db down")
	_, err := execute(t, h.factory, "search", "q")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrStoreAccess))
}

func TestAskCommandPrintsAnswer(t *testing.T) {
	h := newHarness()
	h.answers.answer = "Transformers rely on attention [1]."

	out, err := execute(t, h.factory, "ask", "what is a transformer?")
	require.NoError(t, err)
	assert.Equal(t, "Transformers rely on attention [1].\n", out)
}

func TestAskCommandStreamsFragments(t *testing.T) {
	h := newHarness()
	h.answers.events = []domain.StreamEvent{{Text: "Attention"}, {Text: " helps."}, {Text: "\n\nSources:\n[1] Attention Is All You Need"}}

	out, err := execute(t, h.factory, "ask", "q", "--stream")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Attention helps."))
	assert.Contains(t, out, "Sources:")
}

func TestAskCommandReportsStreamError(t *testing.T) {
	h := newHarness()
	h.answers.events = []domain.StreamEvent{{Text: "partial"}, {Err: errors.New("model went away")}}

	out, err := execute(t, h.factory, "ask", "q", "--stream")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model went away")
	assert.Contains(t, out, "partial")
}

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "papers.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestIngestCommandPublishesByDefault(t *testing.T) {
	h := newHarness()
	path := writeManifest(t, `{"arxiv_id":"1706.03762","title":"Attention Is All You Need","authors":["A. Vaswani"]}
{"arxiv_id":"bad"}
`)

	out, err := execute(t, h.factory, "ingest", "--manifest", path)
	require.NoError(t, err)

	require.Len(t, h.ingestor.papers, 1)
	assert.Equal(t, "1706.03762", h.ingestor.papers[0].ArxivID)
	assert.Contains(t, out, "skipped record 1")
	assert.Contains(t, out, "Ingested 1/1 papers")
	assert.Equal(t, []bool{true}, h.withQueue)
	assert.Nil(t, h.indexer.ids)
}

func TestIngestCommandIndexesInline(t *testing.T) {
	h := newHarness()
	h.indexer.failed = map[string]error{"2401.00002": errors.New("embedding failed")}
	path := writeManifest(t, `{"arxiv_id":"2401.00001","title":"One"}
{"arxiv_id":"2401.00002","title":"Two"}
`)

	out, err := execute(t, h.factory, "ingest", "-m", path, "--index")
	require.Error(t, err)

	assert.Equal(t, []bool{false}, h.withQueue)
	assert.Equal(t, []string{"2401.00001", "2401.00002"}, h.indexer.ids)
	assert.Contains(t, out, "Indexed 1 papers: 3 chunks embedded, 0 skipped")
	assert.Contains(t, out, "2401.00002: embedding failed")
}

func TestIngestCommandRequiresManifestFlag(t *testing.T) {
	h := newHarness()
	_, err := execute(t, h.factory, "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest")
}

func TestIndexCommandIndexesArguments(t *testing.T) {
	h := newHarness()
	out, err := execute(t, h.factory, "index", "1706.03762")
	require.NoError(t, err)
	assert.Equal(t, []string{"1706.03762"}, h.indexer.ids)
	assert.Contains(t, out, "Indexed 1 papers")
}

func TestFactoryErrorIsReturned(t *testing.T) {
	failing := func(context.Context, bool) (*Services, error) {
		return nil, errors.New("postgres unreachable")
	}
	_, err := execute(t, failing, "search", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start services: postgres unreachable")
}
