package retriever

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "with": true, "that": true, "this": true,
	"shall": true, "its": true, "from": true, "into": true, "such": true, "other": true, "any": true,
	"was": true, "were": true, "can": true, "not": true, "use": true, "all": true, "their": true,
	"has": true, "have": true, "been": true, "may": true, "could": true, "detected": true,
}

type document struct {
	passage Passage
	weights map[string]float64
	norm    float64
}

// KeywordIndex is an in-process TF-IDF index over a control catalog.
type KeywordIndex struct {
	docs []document
	idf  map[string]float64
}

// NewKeywordIndex builds the index from every control in the catalog.
func NewKeywordIndex(catalog *engine.Catalog) *KeywordIndex {
	idx := &KeywordIndex{idf: make(map[string]float64)}
	if catalog == nil {
		return idx
	}

	var termFreqs []map[string]float64
	for _, name := range catalog.ListFrameworks() {
		fw, _ := catalog.GetFramework(name)
		for _, ctrl := range fw.Controls {
			text := ctrl.ID + " " + ctrl.Name + ": " + ctrl.Description
			if ctrl.Guidance != "" {
				text += " " + ctrl.Guidance
			}

			tf := make(map[string]float64)
			for _, tok := range tokenize(ctrl.Name + " " + ctrl.Description + " " + ctrl.Guidance) {
				tf[tok]++
			}
			// curated keywords count double
			for _, kw := range ctrl.Keywords {
				for _, tok := range tokenize(kw) {
					tf[tok] += 2
				}
			}
			termFreqs = append(termFreqs, tf)
			idx.docs = append(idx.docs, document{
				passage: Passage{Text: text, ControlID: ctrl.ID, Framework: fw.Name},
			})
		}
	}

	df := make(map[string]int)
	for _, tf := range termFreqs {
		for term := range tf {
			df[term]++
		}
	}
	n := float64(len(termFreqs))
	for term, count := range df {
		idx.idf[term] = math.Log(1+n/float64(count)) + 1
	}

	for i, tf := range termFreqs {
		weights := make(map[string]float64, len(tf))
		var sum float64
		for term, freq := range tf {
			w := (1 + math.Log(freq)) * idx.idf[term]
			weights[term] = w
			sum += w * w
		}
		idx.docs[i].weights = weights
		idx.docs[i].norm = math.Sqrt(sum)
	}
	return idx
}

// Len returns the number of indexed passages.
func (k *KeywordIndex) Len() int {
	return len(k.docs)
}

// Query scores every passage by cosine similarity against text.
func (k *KeywordIndex) Query(ctx context.Context, text string, topK int) ([]Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qtf := make(map[string]float64)
	for _, tok := range tokenize(text) {
		if _, known := k.idf[tok]; known {
			qtf[tok]++
		}
	}
	if len(qtf) == 0 {
		return nil, nil
	}

	qweights := make(map[string]float64, len(qtf))
	var qsum float64
	for term, freq := range qtf {
		w := (1 + math.Log(freq)) * k.idf[term]
		qweights[term] = w
		qsum += w * w
	}
	qnorm := math.Sqrt(qsum)

	var hits []Passage
	for _, d := range k.docs {
		if d.norm == 0 {
			continue
		}
		var dot float64
		for term, qw := range qweights {
			dot += qw * d.weights[term]
		}
		if dot == 0 {
			continue
		}
		p := d.passage
		p.Score = math.Round(dot/(qnorm*d.norm)*10000) / 10000
		hits = append(hits, p)
	}

	sortPassages(hits)
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// tokenize lowercases and splits on anything that is not a letter or digit.
// Tokens shorter than three characters and stopwords are dropped, except
// well known short security terms.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		if len(f) < 3 && f != "id" && f != "os" {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

// stem folds plural and trailing-vowel variants so "injections" matches
// "injection" and "cookies" matches "cookie".
func stem(s string) string {
	switch {
	case len(s) > 4 && strings.HasSuffix(s, "ies"):
		s = s[:len(s)-3] + "i"
	case len(s) > 3 && strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss"):
		s = s[:len(s)-1]
	}
	if len(s) > 3 {
		switch {
		case strings.HasSuffix(s, "e"):
			s = s[:len(s)-1]
		case strings.HasSuffix(s, "y"):
			s = s[:len(s)-1] + "i"
		}
	}
	return s
}
