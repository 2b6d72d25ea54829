// Package command classifies recognized utterances into platform intents.
//
// The [Processor] is a stateless, deterministic pipeline over transcript
// text: language detection (Devanagari script ratio plus a romanized-Hindi
// keyword check), intent classification against curated bilingual phrase
// sets, entity extraction (target persona, topic keywords), and confidence
// scoring that combines phrase-match strength with the caller-supplied
// recognition confidence. Identical input always yields identical output, so
// the pipeline is unit-testable without any provider.
//
// Spoken persona names survive speech recognition imperfectly ("mithra",
// "gooroo"), so target extraction falls back to Double Metaphone phonetic
// matching with Jaro-Winkler ranking when no exact alias is present.
package command

import (
	"math"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/sarathi-ai/voicecore/pkg/types"
)

// Classification tuning defaults.
const (
	// DefaultThreshold is the confidence below which an intent collapses to
	// Unknown.
	DefaultThreshold = 0.3

	// defaultPhoneticThreshold is the minimum Jaro-Winkler score for a
	// phonetically matched persona name to be accepted.
	defaultPhoneticThreshold = 0.7

	// hindiScriptRatio is the share of Devanagari letters above which the
	// utterance counts as Hindi.
	hindiScriptRatio = 0.3
)

// Processor classifies transcripts. It is safe for concurrent use; the
// confidence threshold may be retuned at runtime, everything else is
// read-only after construction.
type Processor struct {
	threshold         atomic.Uint64 // math.Float64bits
	phoneticThreshold float64
	patterns          []pattern
	agents            []string
}

// ProcessorOption configures a [Processor].
type ProcessorOption func(*Processor)

// WithThreshold overrides the Unknown-collapse confidence threshold.
func WithThreshold(v float64) ProcessorOption {
	return func(p *Processor) { p.SetThreshold(v) }
}

// WithAgents sets the recognised persona IDs for target extraction.
func WithAgents(agents []string) ProcessorOption {
	return func(p *Processor) { p.agents = agents }
}

// NewProcessor creates a Processor with the built-in bilingual phrase sets.
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{
		phoneticThreshold: defaultPhoneticThreshold,
		patterns:          defaultPatterns,
		agents:            []string{"mitra", "guru", "parikshak"},
	}
	p.SetThreshold(DefaultThreshold)
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetThreshold replaces the Unknown-collapse threshold at runtime.
func (p *Processor) SetThreshold(v float64) {
	p.threshold.Store(math.Float64bits(v))
}

// Threshold returns the current Unknown-collapse threshold.
func (p *Processor) Threshold() float64 {
	return math.Float64frombits(p.threshold.Load())
}

// Classify runs the pipeline over one transcript.
//
// languageHint, when non-empty ("hi" or "en"), skips detection.
// recognitionConfidence is the STT confidence in [0,1]; zero means the
// vendor reported none and is treated as full confidence rather than
// zeroing every score.
func (p *Processor) Classify(text, languageHint string, recognitionConfidence float64) types.CommandIntent {
	trimmed := strings.TrimSpace(text)
	language := languageHint
	if language == "" {
		language = detectLanguage(trimmed)
	}
	if trimmed == "" {
		return types.CommandIntent{Type: types.IntentUnknown, Language: language}
	}

	rc := recognitionConfidence
	if rc <= 0 || rc > 1 {
		rc = 1
	}

	for _, pat := range p.patterns {
		matches := pat.re.FindStringSubmatch(trimmed)
		if matches == nil {
			continue
		}

		intent := types.CommandIntent{
			Type:       pat.intent,
			Language:   language,
			Confidence: strengthFor[pat.intent] * rc,
		}

		switch pat.intent {
		case types.IntentAgentSwitch:
			intent.TargetAgent = p.resolveAgent(captured(matches), trimmed)
			if intent.TargetAgent == "" {
				// "talk to something" with no recognisable persona is not a
				// switch; let a later pattern claim the utterance.
				continue
			}
		case types.IntentGreeting:
			// "नमस्ते मित्र" both greets and addresses a persona.
			intent.TargetAgent = p.resolveAgent("", trimmed)
		case types.IntentAction, types.IntentQuestion:
			intent.Topics = topicsFrom(captured(matches))
		}

		if intent.Confidence < p.Threshold() {
			return types.CommandIntent{
				Type:       types.IntentUnknown,
				Language:   language,
				Confidence: intent.Confidence,
			}
		}
		return intent
	}

	return types.CommandIntent{Type: types.IntentUnknown, Language: language}
}

// captured returns the first capture group, or empty when the pattern has
// none or it did not participate in the match.
func captured(matches []string) string {
	if len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return ""
}

// resolveAgent maps a spoken persona reference to a canonical ID. It checks
// the capture hint first, then every token of the utterance, exact aliases
// before phonetic fallback.
func (p *Processor) resolveAgent(hint, text string) string {
	if hint != "" {
		if agent := p.matchAgent(hint); agent != "" {
			return agent
		}
	}
	for _, token := range strings.Fields(text) {
		if agent := p.matchAgent(strings.Trim(token, ".,!?")); agent != "" {
			return agent
		}
	}
	return ""
}

// matchAgent resolves one token: exact alias lookup, then Double Metaphone
// overlap ranked by Jaro-Winkler.
func (p *Processor) matchAgent(token string) string {
	lower := strings.ToLower(strings.TrimSpace(token))
	if lower == "" {
		return ""
	}
	if agent, ok := agentAliases[lower]; ok && p.knows(agent) {
		return agent
	}

	tp, ts := matchr.DoubleMetaphone(lower)
	if tp == "" && ts == "" {
		return ""
	}

	best := ""
	bestScore := 0.0
	for _, agent := range p.agents {
		ap, as := matchr.DoubleMetaphone(agent)
		if !codesOverlap(tp, ts, ap, as) {
			continue
		}
		if score := matchr.JaroWinkler(lower, agent, false); score >= p.phoneticThreshold && score > bestScore {
			best, bestScore = agent, score
		}
	}
	return best
}

// knows reports whether agent is in the configured persona set.
func (p *Processor) knows(agent string) bool {
	for _, a := range p.agents {
		if a == agent {
			return true
		}
	}
	return false
}

// codesOverlap reports whether the two Double Metaphone code pairs share a
// non-empty code.
func codesOverlap(ap, as, bp, bs string) bool {
	for _, a := range []string{ap, as} {
		if a == "" {
			continue
		}
		if a == bp || a == bs {
			return true
		}
	}
	return false
}

// topicsFrom tokenizes a captured phrase into topic keywords, dropping
// stopwords and punctuation.
func topicsFrom(phrase string) []string {
	if phrase == "" {
		return nil
	}
	var topics []string
	for _, token := range strings.Fields(strings.ToLower(phrase)) {
		token = strings.TrimFunc(token, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if token == "" {
			continue
		}
		if _, skip := stopwords[token]; skip {
			continue
		}
		topics = append(topics, token)
	}
	return topics
}

// detectLanguage distinguishes Hindi from English input. Devanagari script
// dominating the letter count decides immediately; Latin-script text is
// checked against romanized Hindi keywords so "guru se baat karo" still
// detects as Hindi.
func detectLanguage(text string) string {
	devanagari, letters := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Devanagari, r) {
			devanagari++
		}
	}
	if letters == 0 {
		return "en"
	}
	if float64(devanagari)/float64(letters) >= hindiScriptRatio {
		return "hi"
	}

	lower := strings.ToLower(text)
	for _, kw := range hindiKeywords {
		if strings.Contains(lower, kw) {
			return "hi"
		}
	}
	return "en"
}
