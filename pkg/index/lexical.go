package index

import (
	"fmt"
	"math"
)

// Analyzer turns text into index terms.
type Analyzer func(text string) []string

type LexicalConfig struct {
	K1       float64
	B        float64
	Analyzer Analyzer
}

type posting struct {
	doc int
	tf  int
}

// LexicalIndex is an in-memory BM25 inverted index. Like VectorIndex it is
// filled once and then searched concurrently.
type LexicalIndex struct {
	config   LexicalConfig
	postings map[string][]posting
	ids      []string
	pos      map[string]int
	lengths  []int
	totalLen int
}

func NewLexicalIndex(config LexicalConfig) *LexicalIndex {
	if config.K1 == 0 {
		config.K1 = 1.2
	}
	if config.B == 0 {
		config.B = 0.75
	}
	if config.Analyzer == nil {
		panic("lexical index: analyzer is required")
	}
	return &LexicalIndex{
		config:   config,
		postings: make(map[string][]posting),
		pos:      make(map[string]int),
	}
}

func (li *LexicalIndex) Size() int { return len(li.ids) }

func (li *LexicalIndex) Add(id, text string) error {
	if id == "" {
		return fmt.Errorf("lexical index: empty id")
	}
	if _, ok := li.pos[id]; ok {
		return fmt.Errorf("lexical index: duplicate id %s", id)
	}

	terms := li.config.Analyzer(text)
	doc := len(li.ids)
	li.pos[id] = doc
	li.ids = append(li.ids, id)
	li.lengths = append(li.lengths, len(terms))
	li.totalLen += len(terms)

	tf := make(map[string]int)
	var order []string
	for _, t := range terms {
		if tf[t] == 0 {
			order = append(order, t)
		}
		tf[t]++
	}
	for _, t := range order {
		li.postings[t] = append(li.postings[t], posting{doc: doc, tf: tf[t]})
	}
	return nil
}

// Search scores every document containing a query term with BM25 and returns
// the k best, ties broken by ascending id.
func (li *LexicalIndex) Search(query string, k int) []Result {
	if k <= 0 || len(li.ids) == 0 {
		return nil
	}

	n := float64(len(li.ids))
	avgLen := float64(li.totalLen) / n
	if avgLen == 0 {
		avgLen = 1
	}

	scores := make(map[int]float64)
	seen := make(map[string]bool)
	for _, term := range li.config.Analyzer(query) {
		if seen[term] {
			continue
		}
		seen[term] = true

		plist := li.postings[term]
		if len(plist) == 0 {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for _, p := range plist {
			tf := float64(p.tf)
			norm := 1 - li.config.B + li.config.B*float64(li.lengths[p.doc])/avgLen
			scores[p.doc] += idf * tf * (li.config.K1 + 1) / (tf + li.config.K1*norm)
		}
	}

	top := newTopK(min(k, len(scores)))
	for doc, score := range scores {
		top.offer(Result{ID: li.ids[doc], Score: score})
	}
	return top.results()
}
