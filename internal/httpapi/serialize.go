package httpapi

import (
	"time"

	"github.com/halloffame/hof-server/internal/models"
)

// screenshotView is the wire shape of a screenshot: blob names are
// replaced by public CDN URLs, identifiers never leak.
type screenshotView struct {
	ID             string                 `json:"id"`
	CreatorID      string                 `json:"creatorId"`
	CityName       string                 `json:"cityName"`
	CityMilestone  int                    `json:"cityMilestone"`
	CityPopulation int                    `json:"cityPopulation"`
	TranslatedCity *models.TranslatedName `json:"translatedCityName,omitempty"`

	ImageURLThumbnail string `json:"imageUrlThumbnail"`
	ImageURLFHD       string `json:"imageUrlFHD"`
	ImageURL4K        string `json:"imageUrl4K"`

	ModIDs         []int              `json:"modIds,omitempty"`
	RenderSettings map[string]float64 `json:"renderSettings,omitempty"`

	IsApproved bool `json:"isApproved"`
	IsReported bool `json:"isReported"`

	FavoritesCount       int     `json:"favoritesCount"`
	ViewsCount           int     `json:"viewsCount"`
	UniqueViewsCount     int     `json:"uniqueViewsCount"`
	FavoritingPercentage int     `json:"favoritingPercentage"`
	ViewsPerDay          float64 `json:"viewsPerDay"`
	FavoritesPerDay      float64 `json:"favoritesPerDay"`

	CreatedAt time.Time `json:"createdAt"`

	Favorited *bool  `json:"favorited,omitempty"`
	Algorithm string `json:"__algorithm,omitempty"`
}

func (s *Server) serializeScreenshot(screenshot *models.Screenshot, favorited *bool) screenshotView {
	return screenshotView{
		ID:                screenshot.ID.Hex(),
		CreatorID:         screenshot.CreatorID.Hex(),
		CityName:          screenshot.CityName,
		CityMilestone:     screenshot.CityMilestone,
		CityPopulation:    screenshot.CityPopulation,
		TranslatedCity:    screenshot.TranslatedCityName,
		ImageURLThumbnail: s.blobs.PublicURL(screenshot.BlobThumbnail),
		ImageURLFHD:       s.blobs.PublicURL(screenshot.BlobFHD),
		ImageURL4K:        s.blobs.PublicURL(screenshot.Blob4K),
		ModIDs:            screenshot.ModIDs,
		RenderSettings:    screenshot.RenderSettings,
		IsApproved:        screenshot.IsApproved,
		IsReported:        screenshot.IsReported,

		FavoritesCount:       screenshot.FavoritesCount,
		ViewsCount:           screenshot.ViewsCount,
		UniqueViewsCount:     screenshot.UniqueViewsCount,
		FavoritingPercentage: screenshot.FavoritingPercentage,
		ViewsPerDay:          screenshot.ViewsPerDay,
		FavoritesPerDay:      screenshot.FavoritesPerDay,

		CreatedAt: screenshot.CreatedAt,
		Favorited: favorited,
		Algorithm: screenshot.Algorithm,
	}
}

func (s *Server) serializeScreenshots(screenshots []models.Screenshot, favorited []bool) []screenshotView {
	views := make([]screenshotView, len(screenshots))
	for i := range screenshots {
		var fav *bool
		if favorited != nil {
			fav = &favorited[i]
		}
		views[i] = s.serializeScreenshot(&screenshots[i], fav)
	}
	return views
}

// creatorView is the public shape of a creator profile.
type creatorView struct {
	ID             string                 `json:"id"`
	CreatorName    *string                `json:"creatorName"`
	TranslatedName *models.TranslatedName `json:"translatedName,omitempty"`
	IsSupporter    bool                   `json:"isSupporter"`
	Socials        []models.Social        `json:"socials,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}

func serializeCreator(creator *models.Creator) creatorView {
	return creatorView{
		ID:             creator.ID.Hex(),
		CreatorName:    creator.CreatorName,
		TranslatedName: creator.TranslatedName,
		IsSupporter:    creator.IsSupporter,
		Socials:        creator.Socials,
		CreatedAt:      creator.CreatedAt,
	}
}
