package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/halloffame/hof-server/internal/bans"
	"github.com/halloffame/hof-server/internal/hoferr"
)

// defaultSimilarityCutoff is the cosine-distance ceiling when the
// caller supplies none.
const defaultSimilarityCutoff = 0.2

// mergeScreenshots handles POST /system/screenshots/:id/merge.
func (s *Server) mergeScreenshots(c *gin.Context) {
	targetID, err := objectID(c.Param("id"), "screenshot id")
	if err != nil {
		s.renderError(c, err)
		return
	}

	var body struct {
		SourceIDs []string `json:"sourceIds"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || len(body.SourceIDs) == 0 {
		s.renderError(c, hoferr.New(hoferr.KindInvalidPayload, "sourceIds must be a non-empty array"))
		return
	}

	sourceIDs := make([]primitive.ObjectID, len(body.SourceIDs))
	for i, hex := range body.SourceIDs {
		sourceIDs[i], err = objectID(hex, "source screenshot id")
		if err != nil {
			s.renderError(c, err)
			return
		}
	}

	if err := s.engine.Merge(c.Request.Context(), targetID, sourceIDs); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// approveScreenshot handles POST /system/screenshots/:id/approve.
func (s *Server) approveScreenshot(c *gin.Context) {
	id, err := objectID(c.Param("id"), "screenshot id")
	if err != nil {
		s.renderError(c, err)
		return
	}
	if err := s.engine.UnmarkReported(c.Request.Context(), id); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// findSimilar handles GET /system/screenshots/:id/similar.
func (s *Server) findSimilar(c *gin.Context) {
	id, err := objectID(c.Param("id"), "screenshot id")
	if err != nil {
		s.renderError(c, err)
		return
	}

	cutoff := defaultSimilarityCutoff
	if value := c.Query("maxDistance"); value != "" {
		cutoff, err = strconv.ParseFloat(value, 32)
		if err != nil || cutoff <= 0 {
			s.renderError(c, hoferr.Newf(hoferr.KindInvalidPayload, "invalid maxDistance %q", value))
			return
		}
	}

	matches, err := s.similarity.FindSimilarScreenshots(c.Request.Context(), id, float32(cutoff))
	if err != nil {
		s.renderError(c, err)
		return
	}

	type matchView struct {
		ScreenshotID string  `json:"screenshotId"`
		Distance     float32 `json:"distance"`
	}
	out := make([]matchView, len(matches))
	for i, m := range matches {
		out[i] = matchView{ScreenshotID: m.ScreenshotID.Hex(), Distance: m.Distance}
	}
	c.JSON(http.StatusOK, out)
}

// banCreator handles POST /system/bans: the creator and all their
// known identifiers get ban rows.
func (s *Server) banCreator(c *gin.Context) {
	var body struct {
		CreatorID string `json:"creatorId"`
		Reason    string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.renderError(c, hoferr.New(hoferr.KindInvalidPayload, "creatorId and reason are required"))
		return
	}

	id, err := objectID(body.CreatorID, "creator id")
	if err != nil {
		s.renderError(c, err)
		return
	}
	creator, err := s.creators.Get(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}

	if err := s.bans.BanCreator(c.Request.Context(), creator, bans.NormalizeReason(body.Reason)); err != nil {
		s.renderError(c, err)
		return
	}
	s.metrics.BansIssued.Inc()
	c.Status(http.StatusNoContent)
}

// reconcileStats handles POST /system/stats/reconcile, a full
// recomputation of every screenshot's counters.
func (s *Server) reconcileStats(c *gin.Context) {
	if err := s.stats.ReconcileAll(c.Request.Context()); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
