package memory

import (
	"fmt"
	"strings"
)

const extractionSystemPrompt = `You analyze a conversation between a user and their personal AI companion.
Extract long-term memory from it. Respond with ONLY a JSON object, no prose, in exactly this shape:

{
  "memory_facts": [
    {"category": "goal|interest|relationship|project|trigger|motivator|pattern|skill|value|fact",
     "key": "short_snake_case_key", "value": "the fact as a sentence", "confidence": 0.0,
     "source": "inferred|observed"}
  ],
  "summary": {
    "text": "2-4 sentence summary of the conversation",
    "emotional_tone": "one word",
    "key_topics": ["topic"],
    "decisions_made": ["decision"],
    "unresolved_threads": ["open question"],
    "milestones": ["achievement worth celebrating"]
  },
  "emotional_patterns": [
    {"emotion": "one word", "intensity": 0.0, "polarity": "positive|negative|neutral", "context": "what triggered it"}
  ],
  "identity_signals": [
    {"dimension": "confidence|discipline|emotional_stability|resilience|focus|growth_mindset",
     "score_delta": 0.0, "evidence": "quote or paraphrase"}
  ]
}

Rules:
- Extract at most 8 memory_facts; only durable facts worth remembering for months.
- Keys are stable identifiers: the same underlying fact must map to the same key across conversations.
- confidence is 0.0-1.0; intensity is 0.0-1.0; score_delta is -1.0 to 1.0.
- Empty arrays are fine. Never invent facts that are not supported by the transcript.`

func buildExtractionUserPrompt(turns []Turn) string {
	var b strings.Builder
	b.WriteString("Conversation transcript:\n\n")
	for _, t := range turns {
		role := strings.TrimSpace(t.Role)
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, strings.TrimSpace(t.Content))
	}
	return b.String()
}

const patternDetectionSystemPrompt = `You review recent conversation summaries from a user's personal AI companion
and look for recurring behavioral patterns. Respond with ONLY a JSON object:

{
  "patterns": [
    {"type": "procrastination|decision_paralysis|overcommitment|energy_fluctuation|avoidance",
     "description": "what you observed, grounded in the summaries",
     "severity": "mild|moderate|significant",
     "suggestion": "one concrete, kind suggestion"}
  ],
  "identity_reinforcement": "one encouraging sentence about genuine growth visible in the summaries, or empty string"
}

Rules:
- Report at most 3 patterns and only ones with real evidence across multiple summaries.
- An empty patterns array is the correct answer when nothing recurs.`

func buildPatternDetectionUserPrompt(summaries []ConversationSummary) string {
	var b strings.Builder
	b.WriteString("Recent conversation summaries, newest first:\n\n")
	for i, s := range summaries {
		fmt.Fprintf(&b, "%d. (tone: %s) %s\n", i+1, s.EmotionalTone, s.Summary)
		if len(s.UnresolvedThreads) > 0 {
			fmt.Fprintf(&b, "   unresolved: %s\n", strings.Join(s.UnresolvedThreads, "; "))
		}
	}
	return b.String()
}

const ritualSystemPrompt = `You write a short reflective ritual for a user of a personal AI companion,
based on their recent activity. Respond with ONLY a JSON object:

{
  "summary": "warm 2-4 sentence reflection addressed to the user",
  "accomplishments": ["thing finished or progressed"],
  "goals_reviewed": ["goal and its current state"],
  "intentions": ["suggested intention for the next period"],
  "mood_trend": "one short phrase",
  "growth_highlights": ["identity growth worth naming"]
}

Keep every array to at most 5 entries. Ground everything in the provided material; do not invent events.`

func buildRitualUserPrompt(ritualType RitualType, summaries []ConversationSummary, emotions []EmotionalPattern, identity []IdentityEvolution, goals []MemoryFact, behavioral []BehavioralInsight) string {
	var b strings.Builder
	switch ritualType {
	case RitualWeekly:
		b.WriteString("Write a weekly reset covering the last 7 days.\n\n")
	default:
		b.WriteString("Write a daily recap covering the last 24 hours.\n\n")
	}

	if len(summaries) > 0 {
		b.WriteString("Conversation summaries:\n")
		for _, s := range summaries {
			fmt.Fprintf(&b, "- (%s) %s\n", s.EmotionalTone, s.Summary)
			if len(s.Milestones) > 0 {
				fmt.Fprintf(&b, "  milestones: %s\n", strings.Join(s.Milestones, "; "))
			}
		}
		b.WriteString("\n")
	}
	if len(emotions) > 0 {
		b.WriteString("Emotional events:\n")
		for _, e := range emotions {
			fmt.Fprintf(&b, "- %s (%s, intensity %.1f): %s\n", e.Emotion, e.Polarity, e.Intensity, e.Context)
		}
		b.WriteString("\n")
	}
	if len(identity) > 0 {
		b.WriteString("Identity movement:\n")
		for _, i := range identity {
			fmt.Fprintf(&b, "- %s %+.2f (now %.1f/10): %s\n", i.Dimension, i.Delta, i.Score, i.Note)
		}
		b.WriteString("\n")
	}
	if len(goals) > 0 {
		b.WriteString("Active goals:\n")
		for _, g := range goals {
			fmt.Fprintf(&b, "- %s: %s\n", g.Key, g.Value)
		}
		b.WriteString("\n")
	}
	if len(behavioral) > 0 {
		b.WriteString("Behavioral observations:\n")
		for _, p := range behavioral {
			fmt.Fprintf(&b, "- %s (%s): %s\n", p.PatternType, p.Severity, p.Description)
		}
	}
	return b.String()
}
