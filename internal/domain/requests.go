package domain

// ============================================================
// Fiction
// ============================================================

// Fiction length tiers (closed set, priced by the catalog).
const (
	FictionSample  = "sample"
	FictionNovella = "novella"
	FictionNovel   = "novel"
)

// Character describes a cast member supplied with a fiction request.
type Character struct {
	Name        string   `json:"name"`
	Role        string   `json:"role,omitempty"`
	Description string   `json:"description,omitempty"`
	Quirks      []string `json:"quirks,omitempty"`
}

// FictionRequest is the payload for POST /v1/generate/fiction.
type FictionRequest struct {
	Premise     string      `json:"premise"`
	StoryLength string      `json:"story_length"`
	Title       string      `json:"title,omitempty"`
	Style       string      `json:"style,omitempty"`
	Genre       string      `json:"genre,omitempty"`
	Characters  []Character `json:"characters,omitempty"`
	Setting     string      `json:"setting,omitempty"`
	Tone        string      `json:"tone,omitempty"`
	Themes      []string    `json:"themes,omitempty"`
}

// ============================================================
// Biography
// ============================================================

// Biography length tiers.
const (
	BiographySample        = "sample"
	BiographyShortMemoir   = "short_memoir"
	BiographyStandard      = "standard_biography"
	BiographyComprehensive = "comprehensive"
)

// LifeEvent is a dated milestone supplied with a biography request.
type LifeEvent struct {
	Date        string `json:"date,omitempty"`
	EventType   string `json:"event_type"`
	Description string `json:"description"`
	Impact      string `json:"impact,omitempty"`
}

// BiographyRequest is the payload for POST /v1/generate/biography.
type BiographyRequest struct {
	BiographyType    string            `json:"biography_type"`
	SubjectNames     string            `json:"subject_names"`
	TimePeriodStart  string            `json:"time_period_start"`
	TimePeriodEnd    string            `json:"time_period_end"`
	StoryLength      string            `json:"story_length"`
	BirthDetails     map[string]any    `json:"birth_details,omitempty"`
	FamilyBackground map[string]any    `json:"family_background,omitempty"`
	Career           map[string]any    `json:"career,omitempty"`
	MajorEvents      []LifeEvent       `json:"major_events,omitempty"`
	Personality      map[string]any    `json:"personality,omitempty"`
	Quotes           []map[string]string `json:"quotes,omitempty"`
	NarrativeVoice   string            `json:"narrative_voice,omitempty"`
	Tone             string            `json:"tone,omitempty"`
	Themes           []string          `json:"themes,omitempty"`
}

// ============================================================
// Extras
// ============================================================

// ExtraRequest is the payload for POST /v1/stories/{storyID}/extras.
type ExtraRequest struct {
	ExtraType string `json:"extra_type"`
	Author    string `json:"author,omitempty"`
}

// ============================================================
// Responses
// ============================================================

// GenerationResponse wraps a finished generation with the balance the
// caller has left.
type GenerationResponse struct {
	Story            *Story `json:"story"`
	CreditsRemaining int64  `json:"credits_remaining"`
	Message          string `json:"message,omitempty"`
}

// ExtraResponse wraps a finished extra generation.
type ExtraResponse struct {
	Extra            *StoryExtra `json:"extra"`
	CreditsRemaining int64       `json:"credits_remaining"`
}
