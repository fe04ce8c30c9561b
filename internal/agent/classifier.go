// Package agent implements message-level intent classification, routing
// between retrieval-only/agentic/diagnostic handlers, and the diagnostic
// state machine for autonomous TWS problem resolution (spec §4.12-4.14).
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/connexus-ai/resync/internal/model"
	"github.com/connexus-ai/resync/internal/retrieval"
)

// LLMCompleter is the out-of-core LLM capability used for the classifier's
// optional second stage and for the diagnostic loop's reasoning phases.
type LLMCompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// keywordPattern associates an intent with the keywords the rule stage
// scans for and a density-based preliminary confidence.
var keywordPatterns = []struct {
	intent   model.Intent
	keywords []string
}{
	{model.IntentGreeting, []string{"hello", "hi", "hey", "good morning", "good afternoon"}},
	{model.IntentTroubleshooting, []string{"fail", "failed", "failing", "abend", "error", "stuck", "broken", "rc=", "keeps failing"}},
	{model.IntentJobManagement, []string{"rerun", "restart", "kill", "release", "hold", "cancel"}},
	{model.IntentStatus, []string{"status", "running", "state", "is it done", "finished"}},
	{model.IntentMonitoring, []string{"dashboard", "monitor", "watch", "alert", "track"}},
	{model.IntentAnalysis, []string{"why", "impact", "dependency", "dependencies", "critical path", "analyze"}},
	{model.IntentReporting, []string{"report", "summary", "how many", "list all"}},
}

// suggestedRouting maps intent -> routing mode per spec §4.12.
var suggestedRouting = map[model.Intent]model.RoutingMode{
	model.IntentGreeting:        model.RoutingRAGOnly,
	model.IntentGeneral:         model.RoutingRAGOnly,
	model.IntentReporting:       model.RoutingRAGOnly,
	model.IntentStatus:          model.RoutingAgentic,
	model.IntentJobManagement:   model.RoutingAgentic,
	model.IntentMonitoring:      model.RoutingAgentic,
	model.IntentAnalysis:        model.RoutingAgentic,
	model.IntentTroubleshooting: model.RoutingDiagnostic,
}

// ruleConfidenceThreshold is the point below which the LLM stage is consulted.
const ruleConfidenceThreshold = 0.6

// IntentClassifier classifies a message into a closed intent set via a
// keyword rule stage, optionally refined by an LLM stage (spec §4.12).
type IntentClassifier struct {
	llm LLMCompleter
	log *slog.Logger
}

func NewIntentClassifier(llm LLMCompleter, log *slog.Logger) *IntentClassifier {
	if log == nil {
		log = slog.Default()
	}
	return &IntentClassifier{llm: llm, log: log}
}

// Classify runs the two-stage algorithm and returns the full classification.
func (c *IntentClassifier) Classify(ctx context.Context, message string) model.IntentClassification {
	primary, confidence, secondary, tied := ruleStage(message)
	entities := retrieval.ExtractEntities(message)

	if confidence < ruleConfidenceThreshold && c.llm != nil {
		if refined, ok := c.llmStage(ctx, message); ok {
			primary = refined.primary
			confidence = refined.confidence
			secondary = refined.secondary
			tied = false // LLM stage returns a single ranked result, not a tie set
		}
	}

	result := model.IntentClassification{
		PrimaryIntent:    primary,
		Confidence:       confidence,
		SecondaryIntents: secondary,
		Entities:         entities,
		RequiresTools:    primary != model.IntentGreeting && primary != model.IntentGeneral,
		SuggestedRouting: suggestedRouting[primary],
	}
	if result.SuggestedRouting == "" {
		result.SuggestedRouting = model.RoutingRAGOnly
	}
	result.NeedsClarification = confidence < 0.4 || tied
	return result
}

// ruleStage scans message for keyword patterns and assigns the intent with
// the highest match density; confidence grows with the number of distinct
// keyword hits relative to the total keyword vocabulary scanned. tied
// reports whether the runner-up intent's confidence is within 0.1 of the
// winner's.
func ruleStage(message string) (intent model.Intent, confidence float64, secondary []model.Intent, tied bool) {
	lower := strings.ToLower(message)
	type hit struct {
		intent     model.Intent
		confidence float64
	}
	var hits []hit
	for _, kp := range keywordPatterns {
		matches := 0
		for _, kw := range kp.keywords {
			if containsKeyword(lower, kw) {
				matches++
			}
		}
		if matches > 0 {
			density := float64(matches) / float64(len(kp.keywords))
			// Scale into a usable confidence band: even a single keyword
			// hit out of a small vocabulary should read as reasonably
			// confident.
			conf := 0.5 + density*0.5
			if conf > 0.95 {
				conf = 0.95
			}
			hits = append(hits, hit{kp.intent, conf})
		}
	}
	if len(hits) == 0 {
		return model.IntentGeneral, 0.3, nil, false
	}

	bestIdx := 0
	for i, h := range hits[1:] {
		if h.confidence > hits[bestIdx].confidence {
			bestIdx = i + 1
		}
	}
	best := hits[bestIdx]

	runnerUp := -1.0
	for i, h := range hits {
		if i == bestIdx {
			continue
		}
		secondary = append(secondary, h.intent)
		if h.confidence > runnerUp {
			runnerUp = h.confidence
		}
	}
	tied = runnerUp >= 0 && best.confidence-runnerUp <= 0.1

	return best.intent, best.confidence, secondary, tied
}

// containsKeyword reports whether kw occurs in s without a letter directly
// before or after it, so "hi" does not match inside "something".
func containsKeyword(s, kw string) bool {
	isLetter := func(c byte) bool { return c >= 'a' && c <= 'z' }
	for from := 0; ; {
		i := strings.Index(s[from:], kw)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(kw)
		if (start == 0 || !isLetter(s[start-1])) && (end == len(s) || !isLetter(s[end])) {
			return true
		}
		from = start + 1
	}
}

type llmClassification struct {
	primary    model.Intent
	confidence float64
	secondary  []model.Intent
}

type llmIntentResponse struct {
	PrimaryIntent    string   `json:"primary_intent"`
	Confidence       float64  `json:"confidence"`
	SecondaryIntents []string `json:"secondary_intents"`
}

// llmStage calls the LLM capability with a compact classification prompt
// and parses its JSON response. Returns ok=false on any failure to parse
// or invoke, leaving the rule stage's result in place.
func (c *IntentClassifier) llmStage(ctx context.Context, message string) (llmClassification, bool) {
	prompt := fmt.Sprintf(
		"Classify this TWS operator message into exactly one of: STATUS, TROUBLESHOOTING, "+
			"JOB_MANAGEMENT, MONITORING, ANALYSIS, REPORTING, GREETING, GENERAL. "+
			"Respond with JSON only: {\"primary_intent\":\"...\",\"confidence\":0.0,\"secondary_intents\":[]}.\nMessage: %s",
		message,
	)
	raw, err := c.llm.Complete(ctx, prompt)
	if err != nil {
		c.log.Warn("agent.IntentClassifier: LLM stage failed, keeping rule result", "error", err)
		return llmClassification{}, false
	}

	var resp llmIntentResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		c.log.Warn("agent.IntentClassifier: LLM response not valid JSON, keeping rule result", "error", err)
		return llmClassification{}, false
	}
	intent := model.Intent(resp.PrimaryIntent)
	if _, known := suggestedRouting[intent]; !known {
		return llmClassification{}, false
	}

	secondary := make([]model.Intent, 0, len(resp.SecondaryIntents))
	for _, s := range resp.SecondaryIntents {
		secondary = append(secondary, model.Intent(s))
	}
	return llmClassification{primary: intent, confidence: resp.Confidence, secondary: secondary}, true
}
