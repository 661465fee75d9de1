package memory

// FactCategory classifies semantic memory facts.
type FactCategory string

const (
	CategoryGoal         FactCategory = "goal"
	CategoryInterest     FactCategory = "interest"
	CategoryRelationship FactCategory = "relationship"
	CategoryProject      FactCategory = "project"
	CategoryTrigger      FactCategory = "trigger"
	CategoryMotivator    FactCategory = "motivator"
	CategoryPattern      FactCategory = "pattern"
	CategorySkill        FactCategory = "skill"
	CategoryValue        FactCategory = "value"
	CategoryFact         FactCategory = "fact"
)

// FactSource records how a fact entered the store.
type FactSource string

const (
	SourceExplicit FactSource = "explicit"
	SourceInferred FactSource = "inferred"
	SourceObserved FactSource = "observed"
)

// MemoryFact is one durable semantic fact about the user. At most one live
// fact exists per (user_id, category, key); reinforcement merges in place.
type MemoryFact struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id"`
	Category         FactCategory `json:"category"`
	Key              string       `json:"key"`
	Value            string       `json:"value"`
	Confidence       float64      `json:"confidence"`
	Source           FactSource   `json:"source"`
	LastReinforcedMS int64        `json:"last_reinforced_ms"`
	CreatedAtMS      int64        `json:"created_at_ms"`
}

// ConversationSummary is one immutable episodic record per processed
// conversation window (or ritual period).
type ConversationSummary struct {
	ID                string   `json:"id"`
	UserID            string   `json:"user_id"`
	ConversationID    string   `json:"conversation_id,omitempty"`
	Summary           string   `json:"summary"`
	EmotionalTone     string   `json:"emotional_tone"`
	KeyTopics         []string `json:"key_topics"`
	DecisionsMade     []string `json:"decisions_made"`
	UnresolvedThreads []string `json:"unresolved_threads"`
	Milestones        []string `json:"milestones"`
	PeriodType        string   `json:"period_type"`
	CreatedAtMS       int64    `json:"created_at_ms"`
}

// Polarity classifies an emotional event.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
	PolarityNeutral  Polarity = "neutral"
)

// EmotionalPattern is one append-only emotional event.
type EmotionalPattern struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	Emotion        string   `json:"emotion"`
	Intensity      float64  `json:"intensity"`
	Polarity       Polarity `json:"polarity"`
	Context        string   `json:"context,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	CreatedAtMS    int64    `json:"created_at_ms"`
}

// Dimension names an identity-trajectory axis.
type Dimension string

const (
	DimConfidence         Dimension = "confidence"
	DimDiscipline         Dimension = "discipline"
	DimEmotionalStability Dimension = "emotional_stability"
	DimResilience         Dimension = "resilience"
	DimFocus              Dimension = "focus"
	DimGrowthMindset      Dimension = "growth_mindset"
)

// identityBaseScore seeds a dimension that has no prior row. Scores are a
// running integral of deltas clamped to [0, 10], never set absolutely.
const identityBaseScore = 5.0

// IdentityEvolution is one append-only identity-trajectory step.
type IdentityEvolution struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Dimension   Dimension `json:"dimension"`
	Score       float64   `json:"score"`
	Delta       float64   `json:"delta"`
	Note        string    `json:"note,omitempty"`
	CreatedAtMS int64     `json:"created_at_ms"`
}

// PatternType is the fixed behavioral-pattern taxonomy.
type PatternType string

const (
	PatternProcrastination   PatternType = "procrastination"
	PatternDecisionParalysis PatternType = "decision_paralysis"
	PatternOvercommitment    PatternType = "overcommitment"
	PatternEnergyFluctuation PatternType = "energy_fluctuation"
	PatternAvoidance         PatternType = "avoidance"
)

// Severity grades a behavioral insight.
type Severity string

const (
	SeverityMild        Severity = "mild"
	SeverityModerate    Severity = "moderate"
	SeveritySignificant Severity = "significant"
)

// BehavioralInsight is a detected behavioral pattern. Only the acknowledge
// flag ever mutates; rows are never auto-deleted.
type BehavioralInsight struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	PatternType  PatternType `json:"pattern_type"`
	Description  string      `json:"description"`
	Severity     Severity    `json:"severity"`
	Suggestion   string      `json:"suggestion,omitempty"`
	DetectedFrom string      `json:"detected_from,omitempty"`
	Acknowledged bool        `json:"acknowledged"`
	CreatedAtMS  int64       `json:"created_at_ms"`
}

// ProactiveInsight is a user-facing nudge staged by the insight scanner.
type ProactiveInsight struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	InsightType string `json:"insight_type"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Priority    int    `json:"priority"`
	Surfaced    bool   `json:"is_surfaced"`
	Dismissed   bool   `json:"is_dismissed"`
	ExpiresAtMS int64  `json:"expires_at_ms"`
	CreatedAtMS int64  `json:"created_at_ms"`
}

// Proactive insight types emitted by the scanner.
const (
	InsightMoodDecline      = "mood_decline"
	InsightHighIntensity    = "high_intensity"
	InsightForgottenGoal    = "forgotten_goal"
	InsightPatternAlert     = "pattern_alert"
	InsightIdentityBoost    = "identity_reinforcement"
	InsightUnresolvedThread = "unresolved_thread"
)

// RitualType selects the rollup window.
type RitualType string

const (
	RitualDaily  RitualType = "daily"
	RitualWeekly RitualType = "weekly"
)

// RitualSummary is one immutable periodic rollup record.
type RitualSummary struct {
	ID               string   `json:"id"`
	UserID           string   `json:"user_id"`
	RitualType       string   `json:"ritual_type"`
	Summary          string   `json:"summary"`
	Accomplishments  []string `json:"accomplishments"`
	GoalsReviewed    []string `json:"goals_reviewed"`
	Intentions       []string `json:"intentions"`
	MoodTrend        string   `json:"mood_trend"`
	GrowthHighlights []string `json:"growth_highlights"`
	PeriodStartMS    int64    `json:"period_start_ms"`
	PeriodEndMS      int64    `json:"period_end_ms"`
	CreatedAtMS      int64    `json:"created_at_ms"`
}

// Turn is one message of a conversation transcript handed to the extractor.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExtractionCounts reports how many rows each fan-out section wrote.
type ExtractionCounts struct {
	Facts     int `json:"memory_facts"`
	Summaries int `json:"summary"`
	Events    int `json:"emotional_patterns"`
	Signals   int `json:"identity_signals"`
}

// Trend classifies the recent emotional trajectory.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

func isValidCategory(c FactCategory) bool {
	switch c {
	case CategoryGoal, CategoryInterest, CategoryRelationship, CategoryProject,
		CategoryTrigger, CategoryMotivator, CategoryPattern, CategorySkill,
		CategoryValue, CategoryFact:
		return true
	}
	return false
}

func isValidDimension(d Dimension) bool {
	switch d {
	case DimConfidence, DimDiscipline, DimEmotionalStability, DimResilience,
		DimFocus, DimGrowthMindset:
		return true
	}
	return false
}

func isValidPatternType(p PatternType) bool {
	switch p {
	case PatternProcrastination, PatternDecisionParalysis, PatternOvercommitment,
		PatternEnergyFluctuation, PatternAvoidance:
		return true
	}
	return false
}

func normalizeSource(s string) FactSource {
	switch FactSource(s) {
	case SourceExplicit, SourceInferred, SourceObserved:
		return FactSource(s)
	}
	return SourceInferred
}

func normalizePolarity(p string) Polarity {
	switch Polarity(p) {
	case PolarityPositive, PolarityNegative, PolarityNeutral:
		return Polarity(p)
	}
	return PolarityNeutral
}

func normalizeSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityMild, SeverityModerate, SeveritySignificant:
		return Severity(s)
	}
	return SeverityMild
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
