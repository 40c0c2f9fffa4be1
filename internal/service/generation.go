package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ghostwriter/ghostwriter-api/internal/catalog"
	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/observability"
	"github.com/ghostwriter/ghostwriter-api/internal/port"
)

var genTracer = otel.Tracer("service/generation")

// Models routes tiers of work to provider models.
type Models struct {
	Creative   string
	Structured string
	Biography  string
}

// GenerationService runs story generations behind the credit gate:
// debit first, generate, refund if the generation dies. A weighted
// semaphore bounds how many LLM jobs run at once; no database lock is
// ever held across an LLM call.
type GenerationService struct {
	stories    port.StoryStore
	credits    *CreditService
	llm        port.TextGenerator
	models     Models
	sem        *semaphore.Weighted
	timeout    time.Duration
	storyCache port.Cache[*domain.Story]
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewGenerationService creates a new generation service. Completed
// stories are served from the cache; in-flight ones always hit storage.
func NewGenerationService(stories port.StoryStore, credits *CreditService, llm port.TextGenerator, models Models, maxConcurrent int, timeout time.Duration, storyCache port.Cache[*domain.Story], metrics *observability.Metrics, logger *zap.Logger) *GenerationService {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &GenerationService{
		stories:    stories,
		credits:    credits,
		llm:        llm,
		models:     models,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		timeout:    timeout,
		storyCache: storyCache,
		metrics:    metrics,
		logger:     logger,
	}
}

// GenerateFiction runs the outline-then-chapters pipeline for one
// fiction request.
func (s *GenerationService) GenerateFiction(ctx context.Context, accountID string, req *domain.FictionRequest) (*domain.GenerationResponse, error) {
	ctx, span := genTracer.Start(ctx, "GenerationService.GenerateFiction")
	defer span.End()
	span.SetAttributes(attribute.String("story.length", req.StoryLength))

	if req.Premise == "" {
		return nil, &domain.ErrValidation{Field: "premise", Message: "premise is required"}
	}
	target, ok := fictionWordCounts[req.StoryLength]
	if !ok {
		return nil, &domain.ErrValidation{Field: "story_length", Message: fmt.Sprintf("unknown fiction tier %q", req.StoryLength)}
	}

	metadata, _ := json.Marshal(map[string]any{
		"premise": req.Premise,
		"style":   orDefault(req.Style, defaultStyle),
		"genre":   req.Genre,
	})
	story := &domain.Story{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		StoryType:  domain.StoryFiction,
		Title:      req.Title,
		LengthType: req.StoryLength,
		Metadata:   string(metadata),
		Status:     domain.GenerationPending,
	}

	return s.run(ctx, accountID, catalog.CategoryFiction, req.StoryLength, story, func(genCtx context.Context) (string, string, int, error) {
		return s.writeFiction(genCtx, req, target)
	})
}

// GenerateBiography runs the single-pass biography pipeline.
func (s *GenerationService) GenerateBiography(ctx context.Context, accountID string, req *domain.BiographyRequest) (*domain.GenerationResponse, error) {
	ctx, span := genTracer.Start(ctx, "GenerationService.GenerateBiography")
	defer span.End()
	span.SetAttributes(attribute.String("story.length", req.StoryLength))

	if req.SubjectNames == "" {
		return nil, &domain.ErrValidation{Field: "subject_names", Message: "subject names are required"}
	}
	target, ok := biographyWordCounts[req.StoryLength]
	if !ok {
		return nil, &domain.ErrValidation{Field: "story_length", Message: fmt.Sprintf("unknown biography tier %q", req.StoryLength)}
	}

	metadata, _ := json.Marshal(map[string]any{
		"subject":     req.SubjectNames,
		"type":        req.BiographyType,
		"time_period": fmt.Sprintf("%s - %s", req.TimePeriodStart, req.TimePeriodEnd),
	})
	story := &domain.Story{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		StoryType:  domain.StoryBiography,
		Title:      fmt.Sprintf("The Life of %s", req.SubjectNames),
		LengthType: req.StoryLength,
		Metadata:   string(metadata),
		Status:     domain.GenerationPending,
	}

	return s.run(ctx, accountID, catalog.CategoryBiography, req.StoryLength, story, func(genCtx context.Context) (string, string, int, error) {
		prompt := buildBiographyPrompt(req, target)
		content, err := s.generate(genCtx, prompt, biographySystemPrompt, s.models.Biography)
		if err != nil {
			return "", "", 0, err
		}
		return story.Title, content, countWords(content), nil
	})
}

// run is the shared debit → generate → settle pipeline. generate returns
// (title, content, wordCount, err).
func (s *GenerationService) run(ctx context.Context, accountID, category, tier string, story *domain.Story, generate func(context.Context) (string, string, int, error)) (*domain.GenerationResponse, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	// Debit before the story row exists; a rejected authorization then
	// leaves nothing behind. The gate only needs the story's id.
	auth, err := s.credits.AuthorizeAndDebit(ctx, accountID, category, tier, story.ID)
	if err != nil {
		return nil, err
	}

	if err := s.stories.CreateStory(ctx, story); err != nil {
		if refundErr := s.credits.Refund(context.WithoutCancel(ctx), accountID, auth); refundErr != nil {
			s.logger.Error("refund after failed story create did not apply",
				zap.String("story_id", story.ID),
				zap.Error(refundErr),
			)
		}
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	title, content, wordCount, genErr := generate(genCtx)
	s.metrics.RecordGenerationDuration(story.StoryType, time.Since(start))

	// The request context may have died with the generation (client
	// disconnect). A debited job must settle either way, so both the
	// refund and the completion write survive the disconnect.
	settleCtx := context.WithoutCancel(ctx)

	if genErr != nil {
		s.metrics.IncrGeneration(story.StoryType, "error")
		if refundErr := s.credits.Refund(settleCtx, accountID, auth); refundErr != nil {
			// Refund failures must be loud; the debit would otherwise
			// silently stick.
			s.logger.Error("refund after failed generation did not apply",
				zap.String("story_id", story.ID),
				zap.Error(refundErr),
			)
		}
		if failErr := s.stories.FailStory(settleCtx, story.ID); failErr != nil {
			s.logger.Warn("failed to mark errored story", zap.Error(failErr))
		}
		return nil, &domain.ErrGenerationFailed{StoryID: story.ID, Err: genErr}
	}

	if err := s.stories.CompleteStory(settleCtx, story.ID, title, content, wordCount); err != nil {
		return nil, err
	}
	s.metrics.IncrGeneration(story.StoryType, "success")

	completed, err := s.stories.GetStory(settleCtx, story.ID)
	if err != nil {
		return nil, err
	}
	return &domain.GenerationResponse{
		Story:            completed,
		CreditsRemaining: auth.NewBalance,
	}, nil
}

// writeFiction produces the outline and then each chapter, feeding the
// tail of the previous chapter back in as context.
func (s *GenerationService) writeFiction(ctx context.Context, req *domain.FictionRequest, targetWords int) (string, string, int, error) {
	outlineText, err := s.generate(ctx, buildOutlinePrompt(req, targetWords), fictionSystemPrompt, s.models.Structured)
	if err != nil {
		return "", "", 0, err
	}

	outline, ok := parseOutline(outlineText)
	if !ok {
		// A broken outline is recoverable; a broken chapter is not.
		s.logger.Warn("outline was not valid JSON, using fallback")
		outline = fallbackOutline(req)
	}

	maxChapters := len(outline.Chapters)
	if req.StoryLength == domain.FictionSample && maxChapters > 2 {
		maxChapters = 2
	}

	chapters := make([]domain.Chapter, 0, maxChapters)
	wordCount := 0
	prevChapter := ""
	for i, spec := range outline.Chapters[:maxChapters] {
		s.logger.Info("generating chapter",
			zap.Int("chapter", i+1),
			zap.Int("of", maxChapters),
		)
		prompt := buildChapterPrompt(spec, i+1, tail(prevChapter, 1000), req.Style)
		content, err := s.generate(ctx, prompt, fictionSystemPrompt, s.models.Creative)
		if err != nil {
			return "", "", 0, err
		}

		title := spec.Title
		if title == "" {
			title = fmt.Sprintf("Chapter %d", i+1)
		}
		chapters = append(chapters, domain.Chapter{Number: i + 1, Title: title, Content: content})
		wordCount += countWords(content)
		prevChapter = content
	}

	encoded, err := json.Marshal(chapters)
	if err != nil {
		return "", "", 0, err
	}

	title := outline.Title
	if title == "" {
		title = orDefault(req.Title, "Untitled")
	}
	return title, string(encoded), wordCount, nil
}

// GenerateExtra produces an add-on artifact for a completed story. The
// debit is keyed on the extra's own id so an extra's refund can never
// collide with the story's.
func (s *GenerationService) GenerateExtra(ctx context.Context, accountID, storyID string, req *domain.ExtraRequest) (*domain.ExtraResponse, error) {
	ctx, span := genTracer.Start(ctx, "GenerationService.GenerateExtra")
	defer span.End()
	span.SetAttributes(attribute.String("extra.type", req.ExtraType))

	story, err := s.ownedStory(ctx, accountID, storyID)
	if err != nil {
		return nil, err
	}
	if story.Status != domain.GenerationComplete {
		return nil, &domain.ErrValidation{Field: "story_id", Message: "extras require a completed story"}
	}

	extraID := uuid.NewString()
	auth, err := s.credits.AuthorizeAndDebit(ctx, accountID, catalog.CategoryExtra, req.ExtraType, extraID)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	content, genErr := s.produceExtra(genCtx, story, req)
	settleCtx := context.WithoutCancel(ctx)
	if genErr != nil {
		if refundErr := s.credits.Refund(settleCtx, accountID, auth); refundErr != nil {
			s.logger.Error("refund after failed extra did not apply",
				zap.String("extra_id", extraID),
				zap.Error(refundErr),
			)
		}
		return nil, &domain.ErrGenerationFailed{StoryID: storyID, Err: genErr}
	}

	extra := &domain.StoryExtra{
		ID:        extraID,
		StoryID:   storyID,
		ExtraType: req.ExtraType,
		Content:   content,
	}
	if err := s.stories.CreateExtra(settleCtx, extra); err != nil {
		return nil, err
	}

	return &domain.ExtraResponse{Extra: extra, CreditsRemaining: auth.NewBalance}, nil
}

func (s *GenerationService) produceExtra(ctx context.Context, story *domain.Story, req *domain.ExtraRequest) (string, error) {
	switch req.ExtraType {
	case catalog.ExtraEbookCover, catalog.ExtraPrintCover:
		concept, err := s.coverConcept(ctx, story)
		if err != nil {
			return "", err
		}
		encoded, err := json.Marshal(concept)
		return string(encoded), err

	case catalog.ExtraBlurb:
		return s.generate(ctx, buildBlurbPrompt(story.Title, tail(story.Content, 2000)), fictionSystemPrompt, s.models.Creative)

	case catalog.ExtraAuthorBio:
		return s.generate(ctx, buildAuthorBioPrompt(req.Author, story.Title), fictionSystemPrompt, s.models.Creative)

	case catalog.ExtraEpubExport, catalog.ExtraMobiExport, catalog.ExtraKDPPDF:
		manifest, err := json.Marshal(map[string]any{
			"format":     req.ExtraType,
			"story_id":   story.ID,
			"title":      story.Title,
			"word_count": story.WordCount,
			"status":     "queued",
		})
		return string(manifest), err

	default:
		return "", &domain.ErrValidation{Field: "extra_type", Message: fmt.Sprintf("unknown extra type %q", req.ExtraType)}
	}
}

func (s *GenerationService) coverConcept(ctx context.Context, story *domain.Story) (*domain.CoverConcept, error) {
	var meta struct {
		Genre string `json:"genre"`
	}
	_ = json.Unmarshal([]byte(story.Metadata), &meta)

	raw, err := s.generate(ctx, buildCoverConceptPrompt(story.Title, meta.Genre, nil), fictionSystemPrompt, s.models.Structured)
	if err != nil {
		return nil, err
	}

	var concept domain.CoverConcept
	if jsonErr := json.Unmarshal([]byte(stripCodeFence(raw)), &concept); jsonErr != nil || len(concept.ColorScheme) == 0 {
		return fallbackCoverConcept(), nil
	}
	return &concept, nil
}

// GetStory returns a story the account owns.
func (s *GenerationService) GetStory(ctx context.Context, accountID, storyID string) (*domain.Story, error) {
	ctx, span := genTracer.Start(ctx, "GenerationService.GetStory")
	defer span.End()

	return s.ownedStory(ctx, accountID, storyID)
}

// ListStories returns the account's stories, newest first.
func (s *GenerationService) ListStories(ctx context.Context, accountID string, limit int) ([]domain.Story, error) {
	ctx, span := genTracer.Start(ctx, "GenerationService.ListStories")
	defer span.End()

	return s.stories.ListStories(ctx, accountID, limit)
}

// ListExtras returns every extra generated for a story the account owns.
func (s *GenerationService) ListExtras(ctx context.Context, accountID, storyID string) ([]domain.StoryExtra, error) {
	ctx, span := genTracer.Start(ctx, "GenerationService.ListExtras")
	defer span.End()

	if _, err := s.ownedStory(ctx, accountID, storyID); err != nil {
		return nil, err
	}
	return s.stories.ListExtras(ctx, storyID)
}

func (s *GenerationService) ownedStory(ctx context.Context, accountID, storyID string) (*domain.Story, error) {
	if cached, ok := s.storyCache.Get(storyID); ok {
		s.metrics.IncrCacheHit("story")
		if cached.AccountID != accountID {
			return nil, &domain.ErrNotFound{Resource: "story", ID: storyID}
		}
		return cached, nil
	}
	s.metrics.IncrCacheMiss("story")

	story, err := s.stories.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.AccountID != accountID {
		// Don't leak existence of other accounts' stories.
		return nil, &domain.ErrNotFound{Resource: "story", ID: storyID}
	}
	// Completed stories are immutable, so they are safe to cache.
	if story.Status == domain.GenerationComplete {
		s.storyCache.Set(storyID, story)
	}
	return story, nil
}

// generate wraps the LLM port with error and token accounting. Neither
// provider reliably reports usage, so tokens are estimated at four
// characters each.
func (s *GenerationService) generate(ctx context.Context, prompt, systemPrompt, model string) (string, error) {
	out, err := s.llm.Generate(ctx, prompt, systemPrompt, model)
	if err != nil {
		s.metrics.IncrExternalError("llm")
		return "", err
	}
	s.metrics.RecordTokens(len(prompt+systemPrompt)/4, len(out)/4)
	return out, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
