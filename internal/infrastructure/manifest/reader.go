package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
)

// record is one paper as written by the arXiv fetch scripts. Authors arrive either as
// a JSON array or as one comma-separated string.
type record struct {
	ArxivID   string     `json:"arxiv_id"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Abstract  string     `json:"abstract"`
	Authors   authorList `json:"authors"`
	Published string     `json:"published"`
	Category  string     `json:"category"`
	PDFURL    string     `json:"pdf_url"`
	URL       string     `json:"url"`
}

type authorList []string

func (a *authorList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = nil
		return nil
	}
	if data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*a = list
		return nil
	}

	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return err
	}
	var out []string
	for _, name := range strings.Split(joined, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	*a = out
	return nil
}

// envelope is the non-JSONL export: {"papers": [...]} with fetch metadata around it.
type envelope struct {
	Papers []json.RawMessage `json:"papers"`
}

type RecordError struct {
	Record int
	Err    error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Record, e.Err)
}

type Result struct {
	Papers  []domain.Paper
	Skipped []RecordError
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

// Read decodes a paper manifest: JSON Lines, a JSON array, or a {"papers": [...]} document.
// Invalid records are skipped and reported; a syntax error stops decoding and is returned
// together with the papers read so far.
func Read(r io.Reader) (Result, error) {
	var result Result
	dec := json.NewDecoder(r)

	index := 0
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return result, nil
			}
			return result, fmt.Errorf("decode manifest after record %d: %w", index, err)
		}

		for _, item := range expand(raw) {
			paper, err := toPaper(item)
			if err != nil {
				result.Skipped = append(result.Skipped, RecordError{Record: index, Err: err})
			} else {
				result.Papers = append(result.Papers, paper)
			}
			index++
		}
	}
}

func expand(raw json.RawMessage) []json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil {
			return items
		}
	case '{':
		if bytes.Contains(trimmed, []byte(`"papers"`)) {
			var env envelope
			if err := json.Unmarshal(trimmed, &env); err == nil && env.Papers != nil {
				return env.Papers
			}
		}
	}
	return []json.RawMessage{trimmed}
}

func toPaper(raw json.RawMessage) (domain.Paper, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Paper{}, fmt.Errorf("decode paper: %w", err)
	}

	arxivID := strings.TrimSpace(rec.ArxivID)
	if arxivID == "" {
		arxivID = strings.TrimSpace(rec.ID)
	}
	if arxivID == "" {
		return domain.Paper{}, errors.New("missing arxiv_id")
	}
	if strings.TrimSpace(rec.Title) == "" {
		return domain.Paper{}, fmt.Errorf("paper %s: missing title", arxivID)
	}

	published, err := parsePublished(rec.Published)
	if err != nil {
		return domain.Paper{}, fmt.Errorf("paper %s: %w", arxivID, err)
	}

	url := strings.TrimSpace(rec.URL)
	if url == "" {
		url = strings.TrimSpace(rec.PDFURL)
	}

	return domain.Paper{
		ArxivID:     arxivID,
		Title:       strings.TrimSpace(rec.Title),
		Abstract:    strings.TrimSpace(rec.Abstract),
		Authors:     []string(rec.Authors),
		PublishedAt: published,
		Category:    strings.TrimSpace(rec.Category),
		URL:         url,
	}, nil
}

func parsePublished(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized published date %q", raw)
}
