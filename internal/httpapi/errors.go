package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"

	"github.com/halloffame/hof-server/internal/hoferr"
)

// statusOf maps a domain error kind to its HTTP status. This mapping
// lives here and nowhere else.
func statusOf(kind hoferr.Kind) int {
	switch kind {
	case hoferr.KindInvalidPayload,
		hoferr.KindInvalidCityName,
		hoferr.KindInvalidImageFormat,
		hoferr.KindInvalidCreatorID,
		hoferr.KindInvalidCreatorName,
		hoferr.KindCreatorNotFound:
		return http.StatusBadRequest
	case hoferr.KindUnauthorized:
		return http.StatusUnauthorized
	case hoferr.KindForbidden,
		hoferr.KindBannedIdentity,
		hoferr.KindBannedCreator,
		hoferr.KindIncorrectCreatorID:
		return http.StatusForbidden
	case hoferr.KindNotFound:
		return http.StatusNotFound
	case hoferr.KindConflict,
		hoferr.KindAlreadyApproved,
		hoferr.KindAlreadyFavorited,
		hoferr.KindNotFavorited:
		return http.StatusConflict
	case hoferr.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Kind      string     `json:"kind"`
	Message   string     `json:"message"`
	NotBefore *time.Time `json:"notBefore,omitempty"`
}

// renderError writes a domain error with its stable kind and message.
// Anything unrecognised is a 500: logged, reported, and masked.
func (s *Server) renderError(c *gin.Context, err error) {
	var domain *hoferr.Error
	if errors.As(err, &domain) {
		body := errorBody{Kind: string(domain.Kind), Message: domain.Message}
		if !domain.NotBefore.IsZero() {
			notBefore := domain.NotBefore
			body.NotBefore = &notBefore
		}
		c.AbortWithStatusJSON(statusOf(domain.Kind), gin.H{"error": body})
		return
	}

	s.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	sentry.CaptureException(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": errorBody{Kind: "internal", Message: "internal server error"},
	})
}
