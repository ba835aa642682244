// Package model defines database models
package model

// Metadata is what the service knows about a video before the streaming
// service has finished processing it. It is copied verbatim into the
// catalog entry on promotion.
type Metadata struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	GUID         string `json:"guid"`
	LibraryID    string `json:"library_id"`
	ThumbnailURL string `json:"thumbnail_url"`
	StreamURL    string `json:"stream_url"`
}

// Credential is the signed, time limited authorization a client presents
// to the streaming service when pushing the actual video bytes.
type Credential struct {
	Signature string `json:"signature"`
	// Unix seconds
	ExpiresAt int64  `json:"signature_expiration_time"`
	LibraryID string `json:"library_id"`
	VideoID   string `json:"video_id"`
}

// Complete reports whether every field a client needs to upload is present
func (c *Credential) Complete() bool {
	return c != nil && c.Signature != "" && c.ExpiresAt > 0 && c.LibraryID != ""
}

// Expired reports whether the credential is no longer valid at unix time now
func (c *Credential) Expired(now int64) bool {
	return c.ExpiresAt < now
}

// FeedTags are presentation attributes attached to a video when it
// becomes visible in the catalog
type FeedTags struct {
	ReleaseDate  string  `json:"releasedate"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	URL          string  `json:"url"`
	Poster       string  `json:"poster"`
	StreamFormat string  `json:"streamformat"`
	Length       int     `json:"length"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Framerate    float64 `json:"framerate"`
}

type VideoMetadata struct {
	Metadata
	FeedTags FeedTags `json:"feedTags"`
}
