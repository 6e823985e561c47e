package httpapi

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/halloffame/hof-server/internal/creators"
	"github.com/halloffame/hof-server/internal/hoferr"
	"github.com/halloffame/hof-server/internal/models"
)

const (
	ctxCreator   = "creator"
	ctxRequestID = "requestId"
)

// requestID tags every request with a fresh id, echoed in the
// X-Request-Id header and carried in the logs.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(ctxRequestID, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// authGuard runs before every route: it parses the Authorization
// header, checks identity bans, authenticates the creator and checks
// creator bans. A missing header passes through anonymously; each
// handler decides whether anonymity is acceptable.
func (s *Server) authGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		auth, err := creators.ParseAuthorization(header, c.ClientIP())
		if err != nil {
			s.renderError(c, err)
			return
		}

		var hwid *string
		if auth.HWID != "" {
			hwid = &auth.HWID
		}
		if err := s.bans.EnsureNotBanned(c.Request.Context(), auth.IP, hwid); err != nil {
			s.renderError(c, err)
			return
		}

		creator, err := s.creators.Authenticate(c.Request.Context(), auth)
		if err != nil {
			s.renderError(c, err)
			return
		}

		if err := s.bans.EnsureCreatorNotBanned(c.Request.Context(), creator); err != nil {
			s.renderError(c, err)
			return
		}

		c.Set(ctxCreator, creator)
		c.Next()
	}
}

// currentCreator returns the authenticated creator, or nil for an
// anonymous request.
func currentCreator(c *gin.Context) *models.Creator {
	if v, ok := c.Get(ctxCreator); ok {
		return v.(*models.Creator)
	}
	return nil
}

// requireCreator returns the authenticated creator or renders a 401.
func (s *Server) requireCreator(c *gin.Context) *models.Creator {
	creator := currentCreator(c)
	if creator == nil {
		s.renderError(c, hoferr.New(hoferr.KindUnauthorized, "authentication required"))
		return nil
	}
	return creator
}

// systemGuard protects the maintenance surface with the shared system
// password, scheme "System <password>".
func (s *Server) systemGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, password, _ := strings.Cut(c.GetHeader("Authorization"), " ")
		ok := s.systemPassword != "" &&
			strings.EqualFold(scheme, "system") &&
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(password)), []byte(s.systemPassword)) == 1
		if !ok {
			s.renderError(c, hoferr.New(hoferr.KindForbidden, "system authorization required"))
			return
		}
		c.Next()
	}
}
