package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/halloffame/hof-server/internal/hoferr"
	"github.com/halloffame/hof-server/internal/models"
	"github.com/halloffame/hof-server/internal/screenshots"
)

// objectID parses a 24-hex path or query value.
func objectID(value, what string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(value)
	if err != nil {
		return primitive.NilObjectID, hoferr.Newf(hoferr.KindInvalidPayload, "invalid %s %q", what, value)
	}
	return id, nil
}

// listScreenshots handles GET /screenshots. With favorites or views
// set, the list becomes "screenshots the creator favorited/viewed";
// both require creatorId.
func (s *Server) listScreenshots(c *gin.Context) {
	ctx := c.Request.Context()
	wantFavorites := c.Query("favorites") == "true"
	wantViews := c.Query("views") == "true"

	creatorHex := c.Query("creatorId")
	if creatorHex == "" {
		if wantFavorites || wantViews {
			s.renderError(c, hoferr.New(hoferr.KindInvalidPayload,
				"favorites and views filters require creatorId"))
			return
		}
		s.renderError(c, hoferr.New(hoferr.KindInvalidPayload, "missing creatorId"))
		return
	}
	creatorID, err := objectID(creatorHex, "creator id")
	if err != nil {
		s.renderError(c, err)
		return
	}

	var list []models.Screenshot
	switch {
	case wantFavorites:
		creator, err := s.creators.Get(ctx, creatorID)
		if err != nil {
			s.renderError(c, err)
			return
		}
		ids, err := s.favorites.FavoritedScreenshotIDs(ctx, creator)
		if err != nil {
			s.renderError(c, err)
			return
		}
		list, err = s.engine.ListByIDs(ctx, ids)
		if err != nil {
			s.renderError(c, err)
			return
		}
	case wantViews:
		ids, err := s.views.GetViewedScreenshotIDs(ctx, creatorID, 0)
		if err != nil {
			s.renderError(c, err)
			return
		}
		list, err = s.engine.ListByIDs(ctx, ids)
		if err != nil {
			s.renderError(c, err)
			return
		}
	default:
		list, err = s.engine.ListByCreator(ctx, creatorID)
		if err != nil {
			s.renderError(c, err)
			return
		}
	}

	var favorited []bool
	if viewer := currentCreator(c); viewer != nil && len(list) > 0 {
		ids := make([]primitive.ObjectID, len(list))
		for i := range list {
			ids[i] = list[i].ID
		}
		favorited, err = s.favorites.AreFavorite(ctx, ids, viewer)
		if err != nil {
			s.renderError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, s.serializeScreenshots(list, favorited))
}

// getWeightedScreenshot handles GET /screenshots/weighted.
func (s *Server) getWeightedScreenshot(c *gin.Context) {
	weights := screenshots.DefaultWeights
	supplied := false
	for _, q := range []struct {
		name string
		dst  *int
	}{
		{"random", &weights.Random},
		{"trending", &weights.Trending},
		{"recent", &weights.Recent},
		{"archeologist", &weights.Archeologist},
		{"supporter", &weights.Supporter},
	} {
		value := c.Query(q.name)
		if value == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			s.renderError(c, hoferr.Newf(hoferr.KindInvalidPayload, "invalid weight %s=%q", q.name, value))
			return
		}
		if !supplied {
			weights = screenshots.Weights{}
			supplied = true
		}
		*q.dst = n
	}

	viewMaxAge := 0
	if value := c.Query("viewMaxAge"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			s.renderError(c, hoferr.Newf(hoferr.KindInvalidPayload, "invalid viewMaxAge %q", value))
			return
		}
		viewMaxAge = n
	}

	viewer := currentCreator(c)
	screenshot, err := s.engine.GetWeighted(c.Request.Context(), weights, viewer, viewMaxAge)
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.metrics.WeightedDraws.WithLabelValues(screenshot.Algorithm).Inc()

	var favorited *bool
	if viewer != nil {
		fav, err := s.favorites.IsFavorite(c.Request.Context(), screenshot.ID, viewer)
		if err != nil {
			s.renderError(c, err)
			return
		}
		favorited = &fav
	}
	c.JSON(http.StatusOK, s.serializeScreenshot(screenshot, favorited))
}

// getScreenshot handles GET /screenshots/:id.
func (s *Server) getScreenshot(c *gin.Context) {
	id, err := objectID(c.Param("id"), "screenshot id")
	if err != nil {
		s.renderError(c, err)
		return
	}

	screenshot, err := s.engine.Get(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}

	var favorited *bool
	if viewer := currentCreator(c); viewer != nil {
		fav, err := s.favorites.IsFavorite(c.Request.Context(), id, viewer)
		if err != nil {
			s.renderError(c, err)
			return
		}
		favorited = &fav
	}
	c.JSON(http.StatusOK, s.serializeScreenshot(screenshot, favorited))
}

// createScreenshot handles the multipart POST /screenshots.
func (s *Server) createScreenshot(c *gin.Context) {
	creator := s.requireCreator(c)
	if creator == nil {
		return
	}

	input, err := s.parseIngestForm(c, creator)
	if err != nil {
		s.renderError(c, err)
		return
	}

	screenshot, err := s.engine.Ingest(c.Request.Context(), input)
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.metrics.ScreenshotsIngested.Inc()
	c.JSON(http.StatusCreated, s.serializeScreenshot(screenshot, nil))
}

func (s *Server) parseIngestForm(c *gin.Context, creator *models.Creator) (*screenshots.IngestInput, error) {
	maxSize := s.cfg.Screenshots.MaxFileSizeBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+1024*1024)

	file, header, err := c.Request.FormFile("screenshot")
	if err != nil {
		return nil, hoferr.Wrap(hoferr.KindInvalidPayload, "missing screenshot file", err)
	}
	defer file.Close()
	if header.Size > maxSize {
		return nil, hoferr.Newf(hoferr.KindInvalidPayload,
			"screenshot file exceeds the %d byte limit", maxSize)
	}
	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, hoferr.Wrap(hoferr.KindInvalidPayload, "unreadable screenshot file", err)
	}

	input := &screenshots.IngestInput{
		Creator:     creator,
		CityName:    strings.TrimSpace(c.PostForm("cityName")),
		File:        raw,
		Healthcheck: c.PostForm("healthcheck") == "true",
	}

	input.CityMilestone, err = formInt(c, "cityMilestone")
	if err != nil {
		return nil, err
	}
	input.CityPopulation, err = formInt(c, "cityPopulation")
	if err != nil {
		return nil, err
	}

	if raw := c.PostForm("modIds"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n <= 0 {
				return nil, hoferr.Newf(hoferr.KindInvalidPayload, "invalid mod id %q", part)
			}
			input.ModIDs = append(input.ModIDs, n)
		}
	}
	if raw := c.PostForm("renderSettings"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.RenderSettings); err != nil {
			return nil, hoferr.Wrap(hoferr.KindInvalidPayload, "renderSettings must be a JSON object of numbers", err)
		}
	}
	if raw := c.PostForm("metadata"); raw != "" {
		var metadata bson.M
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, hoferr.Wrap(hoferr.KindInvalidPayload, "metadata must be a JSON object", err)
		}
		input.Metadata = metadata
	}
	return input, nil
}

func formInt(c *gin.Context, field string) (int, error) {
	value := c.PostForm(field)
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, hoferr.Newf(hoferr.KindInvalidPayload, "invalid %s %q", field, value)
	}
	return n, nil
}

// deleteScreenshot handles DELETE /screenshots/:id; only the owner may
// delete.
func (s *Server) deleteScreenshot(c *gin.Context) {
	creator := s.requireCreator(c)
	if creator == nil {
		return
	}
	id, err := objectID(c.Param("id"), "screenshot id")
	if err != nil {
		s.renderError(c, err)
		return
	}

	screenshot, err := s.engine.Get(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if screenshot.CreatorID != creator.ID {
		s.renderError(c, hoferr.New(hoferr.KindForbidden, "only the owner can delete a screenshot"))
		return
	}

	if err := s.engine.Delete(c.Request.Context(), id); err != nil {
		s.renderError(c, err)
		return
	}
	s.metrics.ScreenshotsDeleted.Inc()
	c.Status(http.StatusNoContent)
}

// markViewed handles POST /screenshots/:id/views.
func (s *Server) markViewed(c *gin.Context) {
	creator := s.requireCreator(c)
	if creator == nil {
		return
	}
	id, err := objectID(c.Param("id"), "screenshot id")
	if err != nil {
		s.renderError(c, err)
		return
	}

	if err := s.views.MarkViewed(c.Request.Context(), id, creator.ID); err != nil {
		s.renderError(c, err)
		return
	}
	s.stats.RequestStatsUpdate(id)
	s.metrics.ViewsRecorded.Inc()
	c.Status(http.StatusNoContent)
}

// addFavorite handles POST /screenshots/:id/favorites.
func (s *Server) addFavorite(c *gin.Context) {
	creator := s.requireCreator(c)
	if creator == nil {
		return
	}
	id, err := objectID(c.Param("id"), "screenshot id")
	if err != nil {
		s.renderError(c, err)
		return
	}

	if err := s.favorites.AddFavorite(c.Request.Context(), id, creator); err != nil {
		s.renderError(c, err)
		return
	}
	s.stats.RequestStatsUpdate(id)
	s.metrics.FavoritesAdded.Inc()
	c.Status(http.StatusNoContent)
}

// removeFavorite handles DELETE /screenshots/:id/favorites/mine.
func (s *Server) removeFavorite(c *gin.Context) {
	creator := s.requireCreator(c)
	if creator == nil {
		return
	}
	id, err := objectID(c.Param("id"), "screenshot id")
	if err != nil {
		s.renderError(c, err)
		return
	}

	if err := s.favorites.RemoveFavorite(c.Request.Context(), id, creator); err != nil {
		s.renderError(c, err)
		return
	}
	s.stats.RequestStatsUpdate(id)
	s.metrics.FavoritesRemoved.Inc()
	c.Status(http.StatusNoContent)
}

// reportScreenshot handles POST /screenshots/:id/reports.
func (s *Server) reportScreenshot(c *gin.Context) {
	creator := s.requireCreator(c)
	if creator == nil {
		return
	}
	id, err := objectID(c.Param("id"), "screenshot id")
	if err != nil {
		s.renderError(c, err)
		return
	}

	if err := s.engine.MarkReported(c.Request.Context(), id, creator.ID); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
