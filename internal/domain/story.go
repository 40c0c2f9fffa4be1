package domain

import "time"

// Story types.
const (
	StoryFiction   = "fiction"
	StoryBiography = "biography"
)

// Generation statuses for a story record.
const (
	GenerationPending    = "pending"
	GenerationGenerating = "generating"
	GenerationComplete   = "complete"
	GenerationError      = "error"
)

// Story is a persisted generation artifact. Content holds the chapter
// array (fiction) or the full text (biography) as JSON.
type Story struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	StoryType   string     `json:"story_type"`
	Title       string     `json:"title"`
	LengthType  string     `json:"length_type"`
	Content     string     `json:"content,omitempty"`
	Metadata    string     `json:"metadata,omitempty"`
	Status      string     `json:"generation_status"`
	WordCount   int        `json:"word_count"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Chapter is one generated fiction chapter.
type Chapter struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Outline is the structured plan the LLM produces before chapters are
// written. A malformed LLM response is replaced by a single-chapter
// fallback built from the premise.
type Outline struct {
	Title    string           `json:"title"`
	Chapters []OutlineChapter `json:"chapters"`
	Themes   []string         `json:"themes,omitempty"`
}

// OutlineChapter is a planned chapter inside an Outline.
type OutlineChapter struct {
	Title    string `json:"title"`
	Synopsis string `json:"synopsis"`
}

// StoryExtra is an add-on artifact (blurb, author bio, cover concept,
// export) generated for an existing story.
type StoryExtra struct {
	ID        string    `json:"id"`
	StoryID   string    `json:"story_id"`
	ExtraType string    `json:"extra_type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// CoverConcept is the design brief an extra of type ebook_cover or
// print_cover produces.
type CoverConcept struct {
	ColorScheme     []string `json:"color_scheme"`
	Imagery         string   `json:"imagery"`
	Mood            string   `json:"mood"`
	TypographyStyle string   `json:"typography_style"`
	Layout          string   `json:"layout"`
}
