package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
)

// System prompts define the two authorial personas. The fiction voice is
// shared by the extras that sell the book (blurbs, covers); the
// biography voice handles real lives.
const fictionSystemPrompt = `You are GhostWriter, a sardonic and wickedly clever AI with a penchant for deadpan humor and dark comedy.
Your writing style is:
- Sarcastic but never mean-spirited
- Observant of human absurdities
- Master of the unexpected twist
- Comfortable with gallows humor
- Eloquent yet conversational
- Self-aware about being an AI (occasionally breaks the fourth wall)

You write stories that make readers laugh uncomfortably, think deeply, and question reality.
Your prose is sharp, your dialogue crackles, and your descriptions paint vivid, slightly unsettling pictures.`

const biographySystemPrompt = `You are GhostWriter in Biography Mode, a thoughtful and insightful storyteller who treats life stories with respect while maintaining wit and honesty.

Your approach to biographies:
- Honest but compassionate
- Find the humanity in every story
- Balance achievements with struggles
- Capture the voice and personality of the subject
- Use vivid details to bring moments to life
- Connect personal stories to broader historical/cultural context
- Maintain emotional truth while crafting compelling narrative
- Subtle humor where appropriate, never at the subject's expense

You transform raw life details into compelling narratives that honor the subject while engaging readers.`

// Target word counts per tier.
var fictionWordCounts = map[string]int{
	domain.FictionSample:  1500,
	domain.FictionNovella: 30000,
	domain.FictionNovel:   80000,
}

var biographyWordCounts = map[string]int{
	domain.BiographySample:        2000,
	domain.BiographyShortMemoir:   15000,
	domain.BiographyStandard:      40000,
	domain.BiographyComprehensive: 80000,
}

const defaultStyle = "sarcastic_deadpan"

func buildOutlinePrompt(req *domain.FictionRequest, targetWords int) string {
	style := req.Style
	if style == "" {
		style = defaultStyle
	}
	genre := req.Genre
	if genre == "" {
		genre = "choose best fit"
	}
	setting := req.Setting
	if setting == "" {
		setting = "choose atmospheric setting"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create a story outline for:\n")
	fmt.Fprintf(&b, "Premise: %s\n", req.Premise)
	fmt.Fprintf(&b, "Length: %d words\n", targetWords)
	fmt.Fprintf(&b, "Style: %s\n", style)
	fmt.Fprintf(&b, "Genre: %s\n", genre)
	fmt.Fprintf(&b, "Setting: %s\n", setting)
	if len(req.Characters) > 0 {
		chars, _ := json.Marshal(req.Characters)
		fmt.Fprintf(&b, "Characters: %s\n", chars)
	}
	if len(req.Themes) > 0 {
		fmt.Fprintf(&b, "Themes: %s\n", strings.Join(req.Themes, ", "))
	}
	b.WriteString("\nGenerate JSON with: title, chapters (array with title, synopsis), characters, themes")
	return b.String()
}

func buildChapterPrompt(ch domain.OutlineChapter, number int, previousContext, style string) string {
	if style == "" {
		style = defaultStyle
	}
	title := ch.Title
	if title == "" {
		title = fmt.Sprintf("Chapter %d", number)
	}
	return fmt.Sprintf(`Write Chapter: %s
Synopsis: %s
Previous context: %s
Write 2000-3000 words in %s style.`, title, ch.Synopsis, previousContext, style)
}

func buildBiographyPrompt(req *domain.BiographyRequest, targetWords int) string {
	voice := req.NarrativeVoice
	if voice == "" {
		voice = "third_person_limited"
	}
	bioType := req.BiographyType
	if bioType == "" {
		bioType = "biography"
	}

	var details []string
	if len(req.BirthDetails) > 0 {
		v, _ := json.Marshal(req.BirthDetails)
		details = append(details, fmt.Sprintf("Birth: %s", v))
	}
	if len(req.FamilyBackground) > 0 {
		v, _ := json.Marshal(req.FamilyBackground)
		details = append(details, fmt.Sprintf("Family: %s", v))
	}
	if len(req.Career) > 0 {
		v, _ := json.Marshal(req.Career)
		details = append(details, fmt.Sprintf("Career: %s", v))
	}
	if len(req.MajorEvents) > 0 {
		v, _ := json.Marshal(req.MajorEvents)
		details = append(details, fmt.Sprintf("Major Events: %s", v))
	}
	if len(req.Personality) > 0 {
		v, _ := json.Marshal(req.Personality)
		details = append(details, fmt.Sprintf("Personality: %s", v))
	}

	detailBlock := "Limited information - infer from context and create plausible, contextually appropriate details"
	if len(details) > 0 {
		detailBlock = strings.Join(details, "\n")
	}

	return fmt.Sprintf(`Write a %s about: %s
Time Period: %s to %s
Target Length: %d words
Narrative Voice: %s

Details provided:
%s

Create a compelling life story. Fill in missing details with historically accurate, contextually appropriate content.
Structure as chapters covering different life periods. Make it engaging and human.`,
		bioType, req.SubjectNames, req.TimePeriodStart, req.TimePeriodEnd, targetWords, voice, detailBlock)
}

func buildCoverConceptPrompt(title, genre string, themes []string) string {
	themeList := "mystery, suspense"
	if len(themes) > 0 {
		themeList = strings.Join(themes, ", ")
	}
	if genre == "" {
		genre = "Fiction"
	}
	return fmt.Sprintf(`Design a book cover concept for:

Title: %s
Genre: %s
Themes: %s

Provide a JSON response with:
{
  "color_scheme": ["primary_color", "secondary_color", "accent_color"],
  "imagery": "description of visual elements",
  "mood": "overall atmosphere",
  "typography_style": "font mood (e.g., gothic, modern, elegant)",
  "layout": "composition description"
}
`, title, genre, themeList)
}

func buildBlurbPrompt(title, excerpt string) string {
	return fmt.Sprintf(`Write a back-cover blurb for the book %q.

Opening of the book for reference:
%s

150-200 words. Hook the reader, hint at the stakes, never spoil the ending.`, title, excerpt)
}

func buildAuthorBioPrompt(author, title string) string {
	if author == "" {
		author = "the author"
	}
	return fmt.Sprintf(`Write a short author biography (80-120 words) for %s, author of %q.
Third person, warm but wry, suitable for a book jacket.`, author, title)
}

// fallbackOutline is used when the model returns something that is not
// valid JSON; the story still gets written, just without a plan.
func fallbackOutline(req *domain.FictionRequest) *domain.Outline {
	title := req.Title
	if title == "" {
		title = "Untitled Story"
	}
	return &domain.Outline{
		Title:    title,
		Chapters: []domain.OutlineChapter{{Title: "Chapter 1", Synopsis: req.Premise}},
		Themes:   req.Themes,
	}
}

// fallbackCoverConcept mirrors the default dark/mysterious theme used
// when the concept response cannot be parsed.
func fallbackCoverConcept() *domain.CoverConcept {
	return &domain.CoverConcept{
		ColorScheme:     []string{"#0a0a0a", "#8b0000", "#ffd700"},
		Imagery:         "Dark, mysterious atmosphere",
		Mood:            "suspenseful",
		TypographyStyle: "gothic",
		Layout:          "centered title with dramatic background",
	}
}

// parseOutline extracts an Outline from model output, tolerating fenced
// code blocks around the JSON.
func parseOutline(raw string) (*domain.Outline, bool) {
	cleaned := stripCodeFence(raw)
	var outline domain.Outline
	if err := json.Unmarshal([]byte(cleaned), &outline); err != nil {
		return nil, false
	}
	if len(outline.Chapters) == 0 {
		return nil, false
	}
	return &outline, true
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
