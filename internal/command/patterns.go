package command

import (
	"regexp"

	"github.com/sarathi-ai/voicecore/pkg/types"
)

// pattern pairs a compiled regex with the intent it signals. Capture group 1,
// when present, is the entity payload (agent name or topic phrase).
type pattern struct {
	// re is the compiled pattern. Matching is case-insensitive.
	re *regexp.Regexp

	// name is a human-readable label for logging.
	name string

	// intent is the classification the pattern produces.
	intent types.IntentType
}

// strengthFor weighs how strongly a matched intent correlates with what the
// user actually asked. Explicit agent switches and greetings are near
// unambiguous; free-form actions leave more room for misrecognition.
var strengthFor = map[types.IntentType]float64{
	types.IntentAgentSwitch: 0.9,
	types.IntentGreeting:    0.9,
	types.IntentQuestion:    0.85,
	types.IntentAction:      0.8,
}

// defaultPatterns is the curated bilingual phrase set, checked in order.
// Agent switches first: "talk to guru" must not be swallowed by the generic
// action pattern for "talk".
var defaultPatterns = []pattern{
	// --- Agent switching ---
	{
		name:   "switch-hi-postposition",
		re:     regexp.MustCompile(`(?i)(मित्र|गुरु|परीक्षक|mitra|guru|parikshak)\s*(?:से|को|ko|se)\s*(?:बात|बोल|मदद|सीख|साक्षात्कार|baat|bol|madad|seekh|speak|talk|help|interview)`),
		intent: types.IntentAgentSwitch,
	},
	{
		name:   "switch-en-verb",
		re:     regexp.MustCompile(`(?i)(?:talk to|switch to|connect (?:me )?with|speak with|call)\s*(\S+)`),
		intent: types.IntentAgentSwitch,
	},
	{
		name:   "switch-open",
		re:     regexp.MustCompile(`(?i)(मित्र|गुरु|परीक्षक|mitra|guru|parikshak)\s*(?:खोल|चालू|start|begin|open)`),
		intent: types.IntentAgentSwitch,
	},
	{
		name:   "switch-with",
		// No \b after the Devanagari names: Go's word boundary is ASCII-only
		// and never fires next to Devanagari letters.
		re:     regexp.MustCompile(`(?i)(?:से|se|with|के साथ)\s+(मित्र|गुरु|परीक्षक|(?:mitra|guru|parikshak)\b)`),
		intent: types.IntentAgentSwitch,
	},

	// --- Greetings (before questions: "how are you" is not a question intent) ---
	{
		name:   "greeting-hello",
		re:     regexp.MustCompile(`(?i)^\s*(?:नमस्ते|नमस्कार|namaste|namaskar|(?:hello|hi|hey)\b)`),
		intent: types.IntentGreeting,
	},
	{
		name:   "greeting-time-of-day",
		re:     regexp.MustCompile(`(?i)(?:good|शुभ)\s*(?:morning|afternoon|evening|सुबह|दोपहर|शाम)`),
		intent: types.IntentGreeting,
	},
	{
		name:   "greeting-how-are-you",
		re:     regexp.MustCompile(`(?i)(?:कैसे हो|कैसे हैं|how are you)`),
		intent: types.IntentGreeting,
	},

	// --- Actions ---
	{
		name:   "action-learn",
		re:     regexp.MustCompile(`(?i)(?:सीखना|सिखा|learn|teach|पढ़ना)\s+(?:है|चाहता|चाहती|want|about)?\s*(.+)?`),
		intent: types.IntentAction,
	},
	{
		name:   "action-interview",
		re:     regexp.MustCompile(`(?i)(?:interview|साक्षात्कार|mock\s+test|प्रैक्टिस)\s*(?:practice|अभ्यास|start|शुरू)?`),
		intent: types.IntentAction,
	},
	{
		name:   "action-resume",
		re:     regexp.MustCompile(`(?i)(?:resume|बायोडाटा)\s*(?:check|देख|review)`),
		intent: types.IntentAction,
	},
	{
		name:   "action-feeling",
		re:     regexp.MustCompile(`(?i)(?:मुझे|i am|i feel|मैं)\s*(?:sad|खुश|दुखी|happy|परेशान|worried)`),
		intent: types.IntentAction,
	},
	{
		name:   "action-help",
		re:     regexp.MustCompile(`(?i)(?:help|मदद|सहायता)\s*(?:चाहिए|need|required|करो)?`),
		intent: types.IntentAction,
	},
	{
		name:   "action-chat",
		re:     regexp.MustCompile(`(?i)(?:बात|baat|chat)\s*(?:करना|करनी|want to|चाहता|चाहती|करो)`),
		intent: types.IntentAction,
	},

	// --- Questions ---
	{
		name:   "question-what-is",
		re:     regexp.MustCompile(`(?i)(?:क्या है|क्या होता है|what is|tell me about)\s*(.+)`),
		intent: types.IntentQuestion,
	},
	{
		name:   "question-how-to",
		re:     regexp.MustCompile(`(?i)(?:कैसे|how)\s*(?:करते|करना|to|do|does)\s*(.+)`),
		intent: types.IntentQuestion,
	},
	{
		name:   "question-wh",
		re:     regexp.MustCompile(`(?i)^\s*(?:क्या|कब|कहाँ|क्यों|what|when|where|why|who)\b\s*(.+)`),
		intent: types.IntentQuestion,
	},
	{
		name:   "question-explain",
		re:     regexp.MustCompile(`(?i)(?:explain|समझाओ|समझा दो|बताओ|बता)\s+(?:मुझे|me)?\s*(.+)`),
		intent: types.IntentQuestion,
	},
}

// agentAliases maps spoken agent references, including Devanagari spellings,
// to canonical persona IDs. Phonetic matching only works on Latin script, so
// the Hindi spellings are handled by exact lookup.
var agentAliases = map[string]string{
	"mitra":     "mitra",
	"मित्र":     "mitra",
	"दोस्त":     "mitra",
	"guru":      "guru",
	"गुरु":      "guru",
	"शिक्षक":    "guru",
	"parikshak": "parikshak",
	"परीक्षक":   "parikshak",
}

// hindiKeywords flags romanized Hindi in Latin-script text, so "guru se baat
// karo" typed without Devanagari still detects as Hindi.
var hindiKeywords = []string{
	"namaste", "namaskar", "kaise", "madad", "baat", "karo", "karna",
	"chahiye", "seekh", "samjha", "batao", "shukriya", "dhanyavad",
}

// stopwords are dropped from extracted topic keywords.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "to": {}, "of": {},
	"me": {}, "my": {}, "i": {}, "you": {}, "about": {}, "please": {},
	"want": {}, "need": {}, "can": {}, "do": {}, "does": {},
	"है": {}, "हैं": {}, "का": {}, "की": {}, "के": {}, "में": {}, "से": {},
	"को": {}, "और": {}, "यह": {}, "वह": {}, "मुझे": {}, "मैं": {},
	"चाहता": {}, "चाहती": {}, "हूं": {}, "हूँ": {}, "कृपया": {},
}
