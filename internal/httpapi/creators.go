package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getCreator handles GET /creators/:id.
func (s *Server) getCreator(c *gin.Context) {
	id, err := objectID(c.Param("id"), "creator id")
	if err != nil {
		s.renderError(c, err)
		return
	}

	creator, err := s.creators.Get(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, serializeCreator(creator))
}

// getCreatorStats handles GET /creators/:id/stats.
func (s *Server) getCreatorStats(c *gin.Context) {
	id, err := objectID(c.Param("id"), "creator id")
	if err != nil {
		s.renderError(c, err)
		return
	}

	stats, err := s.engine.StatsForCreator(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// putCreatorMe handles PUT /creators/me. Authentication already
// applied the profile changes carried in the Authorization header;
// this returns the resulting profile.
func (s *Server) putCreatorMe(c *gin.Context) {
	creator := s.requireCreator(c)
	if creator == nil {
		return
	}
	c.JSON(http.StatusOK, serializeCreator(creator))
}

// socialRedirect handles GET /creators/:id/social/:platform with a 302
// to the platform link, counting the click.
func (s *Server) socialRedirect(c *gin.Context) {
	id, err := objectID(c.Param("id"), "creator id")
	if err != nil {
		s.renderError(c, err)
		return
	}

	social, err := s.creators.RecordSocialClick(c.Request.Context(), id, c.Param("platform"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.Redirect(http.StatusFound, social.Link)
}
