package creators

import (
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/halloffame/hof-server/internal/hoferr"
	"github.com/halloffame/hof-server/internal/models"
)

// Authorization is a parsed Authorization header, one of two schemes:
//
//	Creator name=<urlenc>&id=<uuid4>&provider=paradox|local&hwid=<non-empty>
//	CreatorID <uuid4>
//
// Scheme tokens are matched case-insensitively. The request ip is
// attached by the caller.
type Authorization struct {
	// Simple is true for the CreatorID scheme.
	Simple bool

	CreatorID string
	IP        string

	// Mod scheme only.
	Provider    string
	CreatorName *string
	HWID        string
}

// ParseAuthorization parses an Authorization header value. The ip is
// taken from the transport, not the header.
func ParseAuthorization(header, ip string) (*Authorization, error) {
	scheme, payload, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found {
		return nil, hoferr.New(hoferr.KindUnauthorized, "malformed Authorization header")
	}
	payload = strings.TrimSpace(payload)

	switch strings.ToLower(scheme) {
	case "creatorid":
		if err := validateCreatorID(payload); err != nil {
			return nil, err
		}
		return &Authorization{Simple: true, CreatorID: payload, IP: ip}, nil

	case "creator":
		values, err := url.ParseQuery(payload)
		if err != nil {
			return nil, hoferr.Wrap(hoferr.KindUnauthorized, "malformed Creator authorization", err)
		}

		auth := &Authorization{
			CreatorID: values.Get("id"),
			Provider:  values.Get("provider"),
			HWID:      values.Get("hwid"),
			IP:        ip,
		}
		if err := validateCreatorID(auth.CreatorID); err != nil {
			return nil, err
		}
		if auth.Provider != models.ProviderParadox && auth.Provider != models.ProviderLocal {
			return nil, hoferr.Newf(hoferr.KindUnauthorized, "unknown creator id provider %q", auth.Provider)
		}
		if auth.HWID == "" {
			return nil, hoferr.New(hoferr.KindUnauthorized, "missing hwid")
		}
		// An empty name is a valid anonymous creator.
		if name := values.Get("name"); name != "" {
			auth.CreatorName = &name
		}
		return auth, nil

	default:
		return nil, hoferr.Newf(hoferr.KindUnauthorized, "unknown authorization scheme %q", scheme)
	}
}

// validateCreatorID requires a UUID-v4 creator id.
func validateCreatorID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.Version() != 4 {
		return hoferr.Newf(hoferr.KindInvalidCreatorID, "creator id %q is not a v4 UUID", id)
	}
	return nil
}
