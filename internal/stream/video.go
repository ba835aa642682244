// Package stream talks to the remote streaming service that transcodes and
// serves the videos
package stream

import "errors"

// ErrNotFound is returned when the streaming service has no video with the
// requested guid. It is a definite answer, unlike transport failures.
var ErrNotFound = errors.New("video not found")

// ErrListChanged is returned when the library changed while it was being paged.
var ErrListChanged = errors.New("library changed during listing")

// Property of the meta tag that points a remote video back at its local ID
const TagVideoID = "video_id"

const TagDescription = "description"

// Status is the processing state reported by the streaming service
type Status int

const (
	StatusCreated Status = iota
	StatusUploaded
	StatusProcessing
	StatusTranscoding
	StatusFinished
	StatusError
	StatusUploadFailed
)

// Band groups statuses by what they mean for reconciliation. The values in
// between are not relied on.
type Band int

const (
	BandInProgress Band = iota
	BandReady
	BandFailed
)

func (b Band) String() string {
	switch b {
	case BandInProgress:
		return "in_progress"
	case BandReady:
		return "ready"
	default:
		return "failed"
	}
}

func (s Status) Band() Band {
	switch {
	case s < StatusFinished:
		return BandInProgress
	case s == StatusFinished:
		return BandReady
	default:
		return BandFailed
	}
}

type MetaTag struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

type Video struct {
	GUID      string    `json:"guid"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	MetaTags  []MetaTag `json:"metaTags"`
	Length    int       `json:"length"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Framerate float64   `json:"framerate"`
}

// Tag returns the value of the first meta tag with the given property
func (v *Video) Tag(property string) (string, bool) {
	for _, t := range v.MetaTags {
		if t.Property == property {
			return t.Value, true
		}
	}

	return "", false
}

// LocalID returns the back reference to the local video ID, if the video
// carries one
func (v *Video) LocalID() (string, bool) {
	id, ok := v.Tag(TagVideoID)
	if !ok || id == "" {
		return "", false
	}

	return id, true
}
