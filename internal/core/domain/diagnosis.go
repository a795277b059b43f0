package domain

import (
	"errors"
	"strings"
)

// MaxSymptoms bounds a single diagnosis request.
const MaxSymptoms = 32

type DiagnoseRequest struct {
	Symptoms     []string `json:"symptoms"`
	TopK         int      `json:"top_k"`
	UseReranking bool     `json:"use_reranking"`
	MaxResults   int      `json:"max_results"`
}

// NormalizedSymptoms trims symptoms and drops blanks and case-insensitive
// duplicates, keeping first-seen order.
func (r DiagnoseRequest) NormalizedSymptoms() ([]string, error) {
	seen := make(map[string]struct{}, len(r.Symptoms))
	out := make([]string, 0, len(r.Symptoms))
	for _, s := range r.Symptoms {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, WrapError(ErrInvalidInput, "diagnose", errors.New("at least one symptom is required"))
	}
	if len(out) > MaxSymptoms {
		return nil, WrapError(ErrInvalidInput, "diagnose", errors.New("too many symptoms"))
	}
	return out, nil
}

// Diagnosis is one candidate disease for a symptom set. Probability is the
// model's confidence in [0,1].
type Diagnosis struct {
	Name        string   `json:"name"`
	Probability float64  `json:"probability"`
	Description string   `json:"description"`
	Treatment   string   `json:"treatment"`
	Prevention  string   `json:"prevention"`
	Prognosis   string   `json:"prognosis"`
	Symptoms    []string `json:"symptoms"`
	Causes      []string `json:"causes"`
	Treatments  []string `json:"treatments"`
}

type DiagnosisReport struct {
	Symptoms       []string    `json:"symptoms"`
	Diagnoses      []Diagnosis `json:"diagnoses"`
	Sources        []Citation  `json:"sources"`
	Degraded       bool        `json:"degraded"`
	DegradedReason string      `json:"degraded_reason,omitempty"`
	RetrievalID    string      `json:"retrieval_id"`
}
