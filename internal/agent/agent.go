// Package agent produces the response text a persona speaks for a classified
// intent.
//
// The [Generator] interface is the seam to the conversational upstream: the
// production deployment plugs an LLM-backed generator in here, which is an
// external collaborator and out of scope for the voice core. [Personas] is
// the built-in deterministic implementation covering the platform's three
// personas with bilingual templates; it keeps the pipeline fully functional
// and testable without any model.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/sarathi-ai/voicecore/pkg/types"
)

// Generator turns a classified intent into the text the persona speaks.
type Generator interface {
	// Respond produces the response text for agentID given the classified
	// intent and the raw transcript. Implementations must be deterministic
	// for identical input or the voice cache loses its value.
	Respond(ctx context.Context, agentID string, intent types.CommandIntent, text string) (string, error)
}

// persona holds the fixed bilingual templates for one agent.
type persona struct {
	welcome    string // spoken after switching to this persona
	greetHi    string
	greetEn    string
	questionHi string
	questionEn string
	actionHi   string
	actionEn   string
}

// personas carries the platform's three agents. The Hindi welcome and
// greeting lines are the platform's canonical persona voices.
var personas = map[string]persona{
	"mitra": {
		welcome:    "नमस्ते! मैं मित्र हूं। आज आप कैसा महसूस कर रहे हैं?",
		greetHi:    "नमस्ते! मैं आपकी सहायता करने के लिए यहाँ हूँ।",
		greetEn:    "Hello! I am Mitra, here to support you.",
		questionHi: "अच्छा सवाल! चलिए %s के बारे में बात करते हैं।",
		questionEn: "Good question! Let's talk about %s.",
		actionHi:   "ज़रूर, मैं आपके साथ हूँ। बताइए, क्या करना है?",
		actionEn:   "Of course, I am with you. Tell me what you need.",
	},
	"guru": {
		welcome:    "नमस्ते! मैं गुरु हूं। आज आप क्या सीखना चाहते हैं?",
		greetHi:    "नमस्ते! आज हम क्या सीखेंगे?",
		greetEn:    "Hello! What shall we learn today?",
		questionHi: "बहुत अच्छा प्रश्न! %s को समझते हैं।",
		questionEn: "Excellent question! Let's understand %s.",
		actionHi:   "चलिए शुरू करते हैं, यह सीखना एक अच्छा चुनाव है।",
		actionEn:   "Let's begin, that is a great thing to learn.",
	},
	"parikshak": {
		welcome:    "नमस्ते! मैं परीक्षक हूं। Interview practice के लिए तैयार हैं?",
		greetHi:    "नमस्ते! Interview की तैयारी करते हैं।",
		greetEn:    "Hello! Let's prepare for your interview.",
		questionHi: "%s के बारे में पूछना अच्छा है। Interview में यह काम आएगा।",
		questionEn: "Asking about %s is good preparation for your interview.",
		actionHi:   "ठीक है, अभ्यास शुरू करते हैं। तैयार हो जाइए।",
		actionEn:   "Alright, let's start the practice. Get ready.",
	},
}

// Fallback lines for unclassifiable input.
const (
	unknownHi = "माफ़ कीजिए, मैं समझ नहीं पाया। कृपया दोबारा कहिए।"
	unknownEn = "Sorry, I did not catch that. Could you say it again?"
)

// Personas is the deterministic built-in [Generator].
type Personas struct{}

// NewPersonas returns the built-in persona responder.
func NewPersonas() *Personas {
	return &Personas{}
}

// Compile-time assertion that Personas satisfies Generator.
var _ Generator = (*Personas)(nil)

// WelcomeText returns the line a persona speaks when a session switches to
// it. Used directly by the session layer on agent_switch.
func WelcomeText(agentID string) string {
	if p, ok := personas[agentID]; ok {
		return p.welcome
	}
	return "नमस्ते!"
}

// IsKnown reports whether agentID is one of the built-in personas.
func IsKnown(agentID string) bool {
	_, ok := personas[agentID]
	return ok
}

// Respond implements Generator.
func (*Personas) Respond(_ context.Context, agentID string, intent types.CommandIntent, text string) (string, error) {
	p, ok := personas[agentID]
	if !ok {
		return "", fmt.Errorf("agent: unknown persona %q", agentID)
	}
	hindi := intent.Language != "en"

	switch intent.Type {
	case types.IntentGreeting:
		if hindi {
			return p.greetHi, nil
		}
		return p.greetEn, nil

	case types.IntentQuestion:
		topic := topicPhrase(intent.Topics, text, hindi)
		if hindi {
			return fmt.Sprintf(p.questionHi, topic), nil
		}
		return fmt.Sprintf(p.questionEn, topic), nil

	case types.IntentAction:
		if hindi {
			return p.actionHi, nil
		}
		return p.actionEn, nil

	case types.IntentAgentSwitch:
		return WelcomeText(intent.TargetAgent), nil

	default:
		if hindi {
			return unknownHi, nil
		}
		return unknownEn, nil
	}
}

// topicPhrase joins extracted topic keywords, falling back to the raw
// transcript when extraction found nothing.
func topicPhrase(topics []string, text string, hindi bool) string {
	if len(topics) > 0 {
		return strings.Join(topics, " ")
	}
	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		return trimmed
	}
	if hindi {
		return "इस विषय"
	}
	return "this topic"
}
