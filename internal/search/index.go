// Package search provides full-text search over completed conversations.
package search

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/xiaot623/agentmatch/internal/domain"
)

// feedDocument is the indexed form of a feed entry. The document ID is the
// conversation ID.
type feedDocument struct {
	Agents     string    `json:"agents"`
	Transcript string    `json:"transcript"`
	Verdict    string    `json:"verdict"`
	CreatedAt  time.Time `json:"created_at"`
}

// FeedIndex is an in-memory bleve index of feed entries. It is rebuilt from
// the store on startup.
type FeedIndex struct {
	mu    sync.RWMutex
	index bleve.Index
}

// NewFeedIndex creates an empty in-memory index.
func NewFeedIndex() (*FeedIndex, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &FeedIndex{index: index}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	feedMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	dateFieldMapping := bleve.NewDateTimeFieldMapping()

	feedMapping.AddFieldMappingsAt("agents", textFieldMapping)
	feedMapping.AddFieldMappingsAt("transcript", textFieldMapping)
	feedMapping.AddFieldMappingsAt("verdict", keywordFieldMapping)
	feedMapping.AddFieldMappingsAt("created_at", dateFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = feedMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Index adds or replaces a feed entry.
func (f *FeedIndex) Index(entry *domain.FeedEntry) error {
	texts := make([]string, 0, len(entry.Messages))
	for _, m := range entry.Messages {
		texts = append(texts, m.Text)
	}
	doc := feedDocument{
		Agents:     strings.Join(entry.AgentNames, " "),
		Transcript: strings.Join(texts, "\n"),
		Verdict:    string(entry.Verdict),
		CreatedAt:  entry.CreatedAt,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.index.Index(entry.ConvoID, doc); err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	return nil
}

// Search returns the conversation IDs whose transcript or agent names match
// text, best match first. A query of the form "verdict:MATCH words" also
// filters on the verdict.
func (f *FeedIndex) Search(text string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}

	var verdict string
	var words []string
	for _, field := range strings.Fields(text) {
		if v, ok := strings.CutPrefix(field, "verdict:"); ok {
			verdict = strings.ToUpper(v)
			continue
		}
		words = append(words, field)
	}

	var q query.Query
	if len(words) > 0 {
		phrase := strings.Join(words, " ")
		transcript := bleve.NewMatchQuery(phrase)
		transcript.SetField("transcript")
		agents := bleve.NewMatchQuery(phrase)
		agents.SetField("agents")
		q = bleve.NewDisjunctionQuery(transcript, agents)
	} else {
		q = bleve.NewMatchAllQuery()
	}
	if verdict != "" {
		verdictQuery := bleve.NewTermQuery(verdict)
		verdictQuery.SetField("verdict")
		boolQuery := bleve.NewBooleanQuery()
		boolQuery.AddMust(q)
		boolQuery.AddMust(verdictQuery)
		q = boolQuery
	}

	searchReq := bleve.NewSearchRequest(q)
	searchReq.Size = limit

	f.mu.RLock()
	defer f.mu.RUnlock()
	result, err := f.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Count returns the number of indexed entries.
func (f *FeedIndex) Count() (uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.index.DocCount()
}

// Close releases the index.
func (f *FeedIndex) Close() error {
	return f.index.Close()
}
