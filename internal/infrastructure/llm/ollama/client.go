package ollama

import (
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/arxiv-rag/internal/infrastructure/resilience"
)

const defaultRequestTimeout = 120 * time.Second

type Client struct {
	baseURL    string
	genModel   string
	embedModel string

	// httpClient carries a whole-request timeout; streamClient relies on the caller's context only.
	httpClient   *http.Client
	streamClient *http.Client
	executor     *resilience.Executor
}

type Options struct {
	Timeout  time.Duration
	Executor *resilience.Executor
}

func New(baseURL, genModel, embedModel string) *Client {
	return NewWithOptions(baseURL, genModel, embedModel, Options{})
}

func NewWithOptions(baseURL, genModel, embedModel string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		genModel:     genModel,
		embedModel:   embedModel,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
		executor:     opts.Executor,
	}
}
