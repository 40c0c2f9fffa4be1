package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Generation & Stories
// ============================================================

func generateFictionHandler(genSvc *service.GenerationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/generate/fiction")
		defer span.End()

		var req domain.FictionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("story.length", req.StoryLength))

		resp, err := genSvc.GenerateFiction(ctx, AccountIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, resp)
	}
}

func generateBiographyHandler(genSvc *service.GenerationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/generate/biography")
		defer span.End()

		var req domain.BiographyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("story.length", req.StoryLength))

		resp, err := genSvc.GenerateBiography(ctx, AccountIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, resp)
	}
}

func listStoriesHandler(genSvc *service.GenerationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/stories")
		defer span.End()

		limit := parseLimit(r, 20, 100)
		stories, err := genSvc.ListStories(ctx, AccountIDFromContext(ctx), limit)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"stories": stories})
	}
}

func getStoryHandler(genSvc *service.GenerationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/stories/{storyID}")
		defer span.End()

		storyID := chi.URLParam(r, "storyID")
		story, err := genSvc.GetStory(ctx, AccountIDFromContext(ctx), storyID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, story)
	}
}

func listExtrasHandler(genSvc *service.GenerationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/stories/{storyID}/extras")
		defer span.End()

		storyID := chi.URLParam(r, "storyID")
		extras, err := genSvc.ListExtras(ctx, AccountIDFromContext(ctx), storyID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"extras": extras})
	}
}

func createExtraHandler(genSvc *service.GenerationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/stories/{storyID}/extras")
		defer span.End()

		storyID := chi.URLParam(r, "storyID")
		var req domain.ExtraRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("extra.type", req.ExtraType))

		resp, err := genSvc.GenerateExtra(ctx, AccountIDFromContext(ctx), storyID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, resp)
	}
}
