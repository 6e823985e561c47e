// Package models holds the persisted entities of the screenshot
// lifecycle engine.
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Creator id providers.
const (
	ProviderParadox = "paradox"
	ProviderLocal   = "local"
)

// MaxIdentifiers bounds the stored ip and hwid history per creator,
// newest first.
const MaxIdentifiers = 3

// TranslatedName is the translated-name triple attached to a creator
// whose name is not in Latin script.
type TranslatedName struct {
	Locale     string `bson:"locale" json:"locale"`
	Latinized  string `bson:"latinized" json:"latinized"`
	Translated string `bson:"translated" json:"translated"`
}

// Social is one external platform link on a creator profile.
type Social struct {
	Platform string `bson:"platform" json:"platform"`
	Link     string `bson:"link" json:"link"`
	Clicks   int    `bson:"clicks" json:"clicks"`
}

// Creator is an uploader account, identified externally by CreatorID
// (UUID-v4) and internally by ID.
type Creator struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CreatorID           string             `bson:"creatorId" json:"-"`
	CreatorIDProvider   string             `bson:"creatorIdProvider" json:"-"`
	CreatorName         *string            `bson:"creatorName" json:"creatorName"`
	CreatorNameSlug     *string            `bson:"creatorNameSlug" json:"creatorNameSlug"`
	TranslatedName      *TranslatedName    `bson:"translatedName,omitempty" json:"translatedName,omitempty"`
	NeedsTranslation    bool               `bson:"needsTranslation" json:"-"`
	HWIDs               []string           `bson:"hwids" json:"-"`
	IPs                 []string           `bson:"ips" json:"-"`
	IsSupporter         bool               `bson:"isSupporter,omitempty" json:"isSupporter"`
	AllowCreatorIDReset bool               `bson:"allowCreatorIdReset,omitempty" json:"-"`
	Socials             []Social           `bson:"socials,omitempty" json:"socials,omitempty"`
	CreatedAt           time.Time          `bson:"createdAt" json:"createdAt"`
}

// Name returns the creator name or "Anonymous".
func (c *Creator) Name() string {
	if c.CreatorName == nil || *c.CreatorName == "" {
		return "Anonymous"
	}
	return *c.CreatorName
}

// LatestIP returns the most recent ip, or "" when none is known.
func (c *Creator) LatestIP() string {
	if len(c.IPs) == 0 {
		return ""
	}
	return c.IPs[0]
}

// LatestHWID returns the most recent hwid, or nil when none is known.
func (c *Creator) LatestHWID() *string {
	if len(c.HWIDs) == 0 {
		return nil
	}
	return &c.HWIDs[0]
}

// Screenshot is one uploaded city screenshot with its three blob
// variants and denormalised interaction counters.
type Screenshot struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CreatorID      primitive.ObjectID `bson:"creatorId" json:"creatorId"`
	CityName       string             `bson:"cityName" json:"cityName"`
	CityMilestone  int                `bson:"cityMilestone" json:"cityMilestone"`
	CityPopulation int                `bson:"cityPopulation" json:"cityPopulation"`

	BlobThumbnail string `bson:"blobThumbnail" json:"-"`
	BlobFHD       string `bson:"blobFhd" json:"-"`
	Blob4K        string `bson:"blobFourK" json:"-"`

	HWID *string `bson:"hwid" json:"-"`
	IP   string  `bson:"ip" json:"-"`

	TranslatedCityName *TranslatedName `bson:"translatedCityName,omitempty" json:"translatedCityName,omitempty"`

	ModIDs         []int              `bson:"modIds,omitempty" json:"modIds,omitempty"`
	RenderSettings map[string]float64 `bson:"renderSettings,omitempty" json:"renderSettings,omitempty"`
	Metadata       bson.M             `bson:"metadata,omitempty" json:"metadata,omitempty"`

	IsApproved   bool                `bson:"isApproved" json:"isApproved"`
	IsReported   bool                `bson:"isReported" json:"isReported"`
	ReportedByID *primitive.ObjectID `bson:"reportedById,omitempty" json:"-"`

	FavoritesCount       int     `bson:"favoritesCount" json:"favoritesCount"`
	ViewsCount           int     `bson:"viewsCount" json:"viewsCount"`
	UniqueViewsCount     int     `bson:"uniqueViewsCount" json:"uniqueViewsCount"`
	FavoritingPercentage int     `bson:"favoritingPercentage" json:"favoritingPercentage"`
	ViewsPerDay          float64 `bson:"viewsPerDay" json:"viewsPerDay"`
	FavoritesPerDay      float64 `bson:"favoritesPerDay" json:"favoritesPerDay"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`

	// Algorithm tags a screenshot returned by the weighted selector
	// with the rule that produced it. Never persisted.
	Algorithm string `bson:"-" json:"__algorithm,omitempty"`
}

// Favorite is one favorite row. At most one row exists per screenshot
// and creator identity, where identity matches on creatorId, any known
// hwid or any known ip.
type Favorite struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ScreenshotID primitive.ObjectID `bson:"screenshotId" json:"screenshotId"`
	CreatorID    primitive.ObjectID `bson:"creatorId" json:"creatorId"`
	IP           string             `bson:"ip" json:"-"`
	HWID         *string            `bson:"hwid" json:"-"`
	FavoritedAt  time.Time          `bson:"favoritedAt" json:"favoritedAt"`
}

// View is one view row, unique per (screenshotId, creatorId).
type View struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ScreenshotID primitive.ObjectID `bson:"screenshotId" json:"screenshotId"`
	CreatorID    primitive.ObjectID `bson:"creatorId" json:"creatorId"`
	ViewedAt     time.Time          `bson:"viewedAt" json:"viewedAt"`
}

// Ban blocks one identifier. At least one of CreatorID, IP and HWID is
// set; creator bans expand to one row per known identifier.
type Ban struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	CreatorID *primitive.ObjectID `bson:"creatorId,omitempty" json:"creatorId,omitempty"`
	IP        *string             `bson:"ip,omitempty" json:"ip,omitempty"`
	HWID      *string             `bson:"hwid,omitempty" json:"hwid,omitempty"`
	Reason    string              `bson:"reason" json:"reason"`
	BannedAt  time.Time           `bson:"bannedAt" json:"bannedAt"`
}

// EmbeddingDim is the output dimension of the feature-vector model.
const EmbeddingDim = 1280

// FeatureEmbedding is the stored feature vector of one screenshot. The
// 16-hex id doubles as the vector-index key, parsed as a 64-bit
// integer.
type FeatureEmbedding struct {
	ID           string             `bson:"_id" json:"id"`
	ScreenshotID primitive.ObjectID `bson:"screenshotId" json:"screenshotId"`
	Vector       []float32          `bson:"vector" json:"-"`
}
