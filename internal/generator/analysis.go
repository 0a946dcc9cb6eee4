package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Analysis classifies a student question so the client can adapt its UI
// (suggested follow-ups, response layout, difficulty hints).
type Analysis struct {
	// Intent is what the student wants: definition, explanation,
	// comparison, example, summary, or unknown.
	Intent string `json:"intent"`

	// Complexity grades the question: simple, moderate, or complex.
	Complexity string `json:"complexity"`

	// Category is the subject area of the question, or general.
	Category string `json:"category"`

	// Keywords are the salient terms of the question, at most five.
	Keywords []string `json:"keywords"`

	// ExpectedResponseType suggests the answer shape: explanation,
	// definition, list, example, or comparison.
	ExpectedResponseType string `json:"expected_response_type"`
}

// analysisPrompt asks the model for a strict-JSON classification.
const analysisPrompt = `Analyze the following student question and respond with ONLY a JSON object,
no markdown fencing and no text outside the JSON:

{
  "intent": "<definition|explanation|comparison|example|summary|unknown>",
  "complexity": "<simple|moderate|complex>",
  "category": "<subject area, or general>",
  "keywords": ["<up to five key terms>"],
  "expected_response_type": "<explanation|definition|list|example|comparison>"
}

Question: %s`

// Analysis side-call tuning: deterministic-ish output, small budget.
const (
	analysisTemperature float32 = 0.3
	analysisMaxTokens           = 300
)

// defaultAnalysis is the deterministic fallback used whenever the side call
// fails or returns unparseable output. Keywords are the first five
// whitespace-separated words of the question.
func defaultAnalysis(query string) Analysis {
	words := strings.Fields(query)
	if len(words) > 5 {
		words = words[:5]
	}
	return Analysis{
		Intent:               "unknown",
		Complexity:           "moderate",
		Category:             "general",
		Keywords:             words,
		ExpectedResponseType: "explanation",
	}
}

// stripJSONFences removes a surrounding markdown code fence if the model
// added one despite instructions.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// AnalyzeQuery classifies the question with a low-temperature side call.
// It never fails: any model error or malformed response yields the
// deterministic default so the main answer path is unaffected.
func (g *Generator) AnalyzeQuery(ctx context.Context, query string) Analysis {
	temp := analysisTemperature
	maxTokens := analysisMaxTokens
	opts := Options{Temperature: &temp, MaxTokens: &maxTokens}

	out, err := g.model.Generate(ctx,
		[]*schema.Message{schema.UserMessage(fmt.Sprintf(analysisPrompt, query))},
		opts.modelOptions()...,
	)
	if err != nil || out == nil {
		g.log.Warn("query analysis failed, using default", "error", err)
		return defaultAnalysis(query)
	}

	var a Analysis
	if err := json.Unmarshal([]byte(stripJSONFences(out.Content)), &a); err != nil {
		g.log.Warn("query analysis returned malformed JSON, using default", "error", err)
		return defaultAnalysis(query)
	}
	if a.Intent == "" || a.Complexity == "" {
		return defaultAnalysis(query)
	}
	if len(a.Keywords) > 5 {
		a.Keywords = a.Keywords[:5]
	}
	return a
}
