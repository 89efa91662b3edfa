package provider

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"autoreply/internal/domain"
)

// RulesName is the registry name of the deterministic responder.
const RulesName = "rules"

// Rule maps keywords to a canned reply. A keyword with spaces matches as a
// phrase, otherwise it must equal a whole word of the message.
type Rule struct {
	Name     string
	Keywords []string
	Reply    string
	// MaxWords limits the rule to short messages when > 0.
	MaxWords int
}

var builtinRules = struct {
	greeting, thanks, hours, pricing, help Rule
}{
	greeting: Rule{
		Name:     "greeting",
		Keywords: []string{"hi", "hello", "hey", "hiya", "good morning", "good afternoon", "good evening", "ola", "olá", "oi"},
		Reply:    "Hi! How can I help you today?",
		MaxWords: 4,
	},
	thanks: Rule{
		Name:     "thanks",
		Keywords: []string{"thanks", "thank you", "thx", "ty", "cheers", "obrigado", "obrigada"},
		Reply:    "You're welcome! Is there anything else I can help with?",
	},
	hours: Rule{
		Name:     "hours",
		Keywords: []string{"hours", "open", "opening", "close", "closing", "schedule", "when are you"},
		Reply:    "We're available Monday to Friday, 9am to 6pm. Messages sent outside those hours are answered the next business day.",
	},
	pricing: Rule{
		Name:     "pricing",
		Keywords: []string{"price", "prices", "pricing", "cost", "costs", "how much", "plan", "plans", "fee", "fees"},
		Reply:    "Pricing depends on the plan you choose. Tell me what you need and I'll point you to the right option.",
	},
	help: Rule{
		Name:     "help",
		Keywords: []string{"help", "support", "problem", "issue", "broken", "not working"},
		Reply:    "I'm here to help. Please describe what's going on and I'll do my best to sort it out.",
	},
}

const defaultRuleReply = "Thanks for your message! A member of our team will get back to you shortly."

// Rules is a deterministic responder. It never fails and needs no network,
// which makes it the usual last-resort fallback.
type Rules struct {
	custom []Rule
}

// NewRules creates the responder. Custom rules are tried before the built-ins.
func NewRules(custom []Rule) *Rules {
	return &Rules{custom: custom}
}

func (r *Rules) Name() string { return RulesName }

func (r *Rules) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// cases.Caser is stateful; build one per call.
	folded := cases.Fold().String(strings.TrimSpace(req.Message.Content))
	words := strings.FieldsFunc(folded, func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '\''
	})

	reply := func(rule, text string) *domain.GenerateResult {
		return &domain.GenerateResult{
			Content:  text,
			Provider: RulesName,
			Attempts: 1,
			Metadata: map[string]any{"rule": rule},
		}
	}

	for _, rule := range r.custom {
		if matches(rule, folded, words) {
			return reply(rule.Name, rule.Reply), nil
		}
	}
	if matches(builtinRules.greeting, folded, words) {
		return reply("greeting", greetingFor(req.Message.SenderName)), nil
	}
	if matches(builtinRules.thanks, folded, words) {
		return reply("thanks", builtinRules.thanks.Reply), nil
	}
	if len(req.Knowledge) > 0 {
		top := strings.TrimSpace(req.Knowledge[0].Text())
		if top != "" {
			res := reply("knowledge", "Here's what I found: "+top)
			res.Metadata["knowledge_id"] = req.Knowledge[0].ID
			return res, nil
		}
	}
	for _, rule := range []Rule{builtinRules.hours, builtinRules.pricing, builtinRules.help} {
		if matches(rule, folded, words) {
			return reply(rule.Name, rule.Reply), nil
		}
	}
	return reply("default", defaultRuleReply), nil
}

func greetingFor(name string) string {
	if first, _, _ := strings.Cut(strings.TrimSpace(name), " "); first != "" {
		return "Hi " + first + "! How can I help you today?"
	}
	return builtinRules.greeting.Reply
}

func matches(rule Rule, folded string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	if rule.MaxWords > 0 && len(words) > rule.MaxWords {
		return false
	}
	for _, kw := range rule.Keywords {
		kw = cases.Fold().String(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(kw, " ") {
			if strings.Contains(folded, kw) {
				return true
			}
			continue
		}
		for _, w := range words {
			if w == kw {
				return true
			}
		}
	}
	return false
}
