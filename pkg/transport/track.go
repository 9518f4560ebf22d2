package transport

import "time"

// Source identifies the catalog a track was resolved from
type Source string

const (
	// SourceYouTube is the primary catalog; autoplay re-resolves foreign
	// tracks against it before asking for recommendations.
	SourceYouTube    Source = "youtube"
	SourceSoundCloud Source = "soundcloud"
	SourceSpotify    Source = "spotify"
)

// Track represents a single playable track resolved against a catalog
type Track struct {
	ID        string
	Title     string
	Author    string
	URI       string
	Source    Source
	Length    time.Duration
	Requester string
}

// IsPrimaryCatalog reports whether the track was resolved from the primary catalog
func (t Track) IsPrimaryCatalog() bool {
	return t.Source == SourceYouTube
}
