// Package streamtest provides an in-memory streaming service for tests
package streamtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"openbroadcast/stream-api/internal/model"
	"openbroadcast/stream-api/internal/stream"
)

// Fake keeps remote videos in memory. Guids are handed out as g1, g2, ...
// The exported error fields make the matching call fail when set.
type Fake struct {
	mu     sync.Mutex
	videos map[string]*stream.Video
	next   int

	Library       string
	CredentialTTL time.Duration

	CreateErr     error
	UpdateErr     error
	ListErr       error
	DeleteErr     error
	CredentialErr error
	// Per guid failures for RetrieveVideo
	RetrieveErr map[string]error
	// Replaces the generated credential when set
	Credential func(guid string) *model.Credential
	// When set CreateVideo answers with an empty guid
	EmptyGUID bool

	Deleted []string
}

func New() *Fake {
	return &Fake{
		videos:        map[string]*stream.Video{},
		Library:       "lib",
		CredentialTTL: time.Hour,
		RetrieveErr:   map[string]error{},
	}
}

func (f *Fake) CreateVideo(_ context.Context, title string) (*stream.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return nil, f.CreateErr
	}

	if f.EmptyGUID {
		return &stream.Video{Title: title}, nil
	}

	f.next++
	v := &stream.Video{GUID: fmt.Sprintf("g%d", f.next), Title: title}
	f.videos[v.GUID] = v

	cp := *v
	return &cp, nil
}

func (f *Fake) UpdateMetaTags(_ context.Context, guid string, tags []stream.MetaTag) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.UpdateErr != nil {
		return f.UpdateErr
	}

	v, ok := f.videos[guid]
	if !ok {
		return stream.ErrNotFound
	}

	v.MetaTags = append([]stream.MetaTag(nil), tags...)
	return nil
}

func (f *Fake) RetrieveVideo(_ context.Context, guid string) (*stream.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.RetrieveErr[guid]; err != nil {
		return nil, err
	}

	v, ok := f.videos[guid]
	if !ok {
		return nil, stream.ErrNotFound
	}

	cp := *v
	return &cp, nil
}

func (f *Fake) ListVideos(_ context.Context, _ string) ([]stream.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ListErr != nil {
		return nil, f.ListErr
	}

	videos := make([]stream.Video, 0, len(f.videos))
	for _, v := range f.videos {
		videos = append(videos, *v)
	}

	sort.Slice(videos, func(i, j int) bool { return videos[i].GUID < videos[j].GUID })
	return videos, nil
}

func (f *Fake) DeleteVideo(_ context.Context, guid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.DeleteErr != nil {
		return f.DeleteErr
	}

	delete(f.videos, guid)
	f.Deleted = append(f.Deleted, guid)
	return nil
}

func (f *Fake) CreateUploadCredential(_ context.Context, guid string) (*model.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CredentialErr != nil {
		return nil, f.CredentialErr
	}

	if f.Credential != nil {
		return f.Credential(guid), nil
	}

	return &model.Credential{
		Signature: "sig-" + guid,
		ExpiresAt: time.Now().Add(f.CredentialTTL).Unix(),
		LibraryID: f.Library,
		VideoID:   guid,
	}, nil
}

// Put adds or replaces a remote video
func (f *Fake) Put(v stream.Video) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := v
	f.videos[v.GUID] = &cp
}

// SetStatus changes the processing state of an existing video
func (f *Fake) SetStatus(guid string, s stream.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if v, ok := f.videos[guid]; ok {
		v.Status = s
	}
}

// Has reports whether the remote library still holds guid
func (f *Fake) Has(guid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.videos[guid]
	return ok
}

func (f *Fake) DeletedGUIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.Deleted...)
}

// Count returns how many videos the remote library holds
func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.videos)
}
