package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/bovicare-rag/internal/core/domain"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/textproc"
)

func buildAnswerPrompt(question string, evidence []domain.EvidenceItem) string {
	var contextBuilder strings.Builder
	for idx, item := range evidence {
		fmt.Fprintf(&contextBuilder,
			"[%d] disease=%s section=%s %s relevance=%.3f\n%s\n\n",
			idx+1,
			item.Passage.DiseaseName,
			item.Passage.SectionType,
			item.Passage.PageRange,
			item.RelevanceScore,
			item.Passage.Text,
		)
	}

	return fmt.Sprintf(`You are a veterinary assistant for cattle health questions.
Answer the question only from the numbered sources below and cite them as [n].
If the sources are insufficient, say so directly. Do not invent dosages.

Question:
%s

Sources:
%s
`, question, contextBuilder.String())
}

func buildRerankPrompt(query string, candidates []domain.RerankCandidate, maxDocChars int) string {
	var docs strings.Builder
	for idx, c := range candidates {
		fmt.Fprintf(&docs, "Document %d:\n%s\n\n", idx+1, textproc.Truncate(c.Text, maxDocChars))
	}

	return fmt.Sprintf(`You are an expert veterinary relevance judge.
Rate how relevant each document is to the query on a scale from 0.0 (irrelevant) to 1.0 (directly answers it).
Return one entry per document with its number as "id", the "score" and a short "rationale".

Query: %s

%s`, query, docs.String())
}

func buildDiagnosisPrompt(symptoms []string, evidence []domain.EvidenceItem) string {
	var sources strings.Builder
	for idx, item := range evidence {
		fmt.Fprintf(&sources, "[%d] disease=%s section=%s\n%s\n\n",
			idx+1,
			item.Passage.DiseaseName,
			item.Passage.SectionType,
			item.Passage.Text,
		)
	}

	return fmt.Sprintf(`You are a veterinary specialist for cattle.
Analyse the symptoms of the animal and list the possible diseases, most likely first.
Use only the numbered sources below. Give each diagnosis a probability between 0.0 and 1.0.
If the sources do not support any diagnosis, return an empty list.

Symptoms: %s

Sources:
%s`, strings.Join(symptoms, "; "), sources.String())
}

// rerankSchema constrains the model output to {"scores":[{id,score,rationale}]}.
func rerankSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scores": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":        map[string]any{"type": "integer"},
						"score":     map[string]any{"type": "number", "minimum": 0, "maximum": 1},
						"rationale": map[string]any{"type": "string"},
					},
					"required": []string{"id", "score"},
				},
			},
		},
		"required": []string{"scores"},
	}
}

// diagnosisSchema constrains the model output to {"diagnoses":[Diagnosis...]}.
func diagnosisSchema() map[string]any {
	text := map[string]any{"type": "string"}
	list := map[string]any{"type": "array", "items": text}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"diagnoses": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":        text,
						"probability": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
						"description": text,
						"treatment":   text,
						"prevention":  text,
						"prognosis":   text,
						"symptoms":    list,
						"causes":      list,
						"treatments":  list,
					},
					"required": []string{"name", "probability"},
				},
			},
		},
		"required": []string{"diagnoses"},
	}
}
