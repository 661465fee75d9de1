package chat

import "strings"

// Mode selects the companion's conversational stance and sampling temperature.
type Mode string

const (
	ModeAssistant     Mode = "assistant"
	ModeGrowthPartner Mode = "growth_partner"
	ModeTherapistLite Mode = "therapist_lite"
	ModeStrategic     Mode = "strategic"
	ModeCasual        Mode = "casual"
	ModeCreative      Mode = "creative"
	ModeTechnical     Mode = "technical"
)

var modeInstructions = map[Mode]string{
	ModeAssistant: `Mode: assistant. Be helpful, direct, and practical. Answer the question asked before offering anything extra.`,
	ModeGrowthPartner: `Mode: growth partner. Hold the user accountable to their stated goals. Celebrate real progress, name avoidance gently, and always connect today's conversation back to where they said they want to go.`,
	ModeTherapistLite: `Mode: reflective listener. Lead with empathy. Reflect feelings back before offering any advice, ask open questions, and never diagnose. You are a supportive companion, not a clinician.`,
	ModeStrategic: `Mode: strategic. Think in systems and trade-offs. Push for clarity on priorities, surface second-order effects, and end with a concrete next step.`,
	ModeCasual: `Mode: casual. Keep it light and conversational, like a good friend catching up. Short replies are fine.`,
	ModeCreative: `Mode: creative. Be playful and generative. Offer unexpected angles, riff on ideas, and favor divergence over convergence.`,
	ModeTechnical: `Mode: technical. Be precise and rigorous. Prefer concrete examples and exact terminology; say so plainly when you are unsure.`,
}

// NormalizeMode maps arbitrary client input onto a known mode, defaulting
// to assistant.
func NormalizeMode(raw string) Mode {
	m := Mode(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := modeInstructions[m]; ok {
		return m
	}
	return ModeAssistant
}

// Temperature is the sampling temperature for the mode.
func (m Mode) Temperature() float64 {
	switch m {
	case ModeCreative:
		return 0.9
	case ModeTechnical:
		return 0.3
	case ModeStrategic:
		return 0.5
	default:
		return 0.75
	}
}

const defaultPersona = `You are a personal AI companion. You remember what matters to the user across conversations and you care about their long-term growth, not just the current exchange. Be warm, honest, and specific.`

// BuildSystemPrompt layers persona, the per-user cognitive block, and mode
// instructions in that fixed order. cognitive may be empty for anonymous turns.
func BuildSystemPrompt(persona, userName, cognitive string, mode Mode) string {
	sections := []string{}

	p := strings.TrimSpace(persona)
	if p == "" {
		p = defaultPersona
	}
	sections = append(sections, p)

	if name := strings.TrimSpace(userName); name != "" {
		sections = append(sections, "The user's name is "+name+".")
	}
	if c := strings.TrimSpace(cognitive); c != "" {
		sections = append(sections, c)
	}
	sections = append(sections, modeInstructions[mode])

	return strings.Join(sections, "\n\n---\n\n")
}
