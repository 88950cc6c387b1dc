// Package llm defines the abstract LLM collaborator used only to narrate a
// decision already made numerically (spec.md section 4.10): the model never
// decides, it only explains. Production provider backends are out of scope;
// this package defines the schema and interface the rebalancer depends on.
package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// DecisionRationale is the structured-output schema requested from the LLM,
// grounded on the retrieval pack's llm analyzer response shapes
// (MarketAnalysis/RiskAssessment): a direction/confidence/reasoning record
// plus a caution-flag list, never a position size or trade signal itself.
type DecisionRationale struct {
	Direction    string   `json:"direction"`
	Confidence   float64  `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
	RiskLevel    string   `json:"risk_level"`
	CautionFlags []string `json:"caution_flags"`
}

// LLM is the narrow collaborator the rebalancer calls for narration.
type LLM interface {
	Complete(ctx context.Context, prompt string) (DecisionRationale, error)
}

var codeBlockPattern = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// StripMarkdownCodeBlock removes a surrounding ```json fenced block, a
// common LLM response wrapper, before JSON decoding.
func StripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)
	if matches := codeBlockPattern.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return response
}

// ParseDecisionRationale decodes a raw LLM response into a DecisionRationale,
// tolerating a markdown code fence around the JSON payload.
func ParseDecisionRationale(raw string) (DecisionRationale, error) {
	var r DecisionRationale
	err := json.Unmarshal([]byte(StripMarkdownCodeBlock(raw)), &r)
	return r, err
}
