package stream

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"openbroadcast/stream-api/internal/model"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	DefaultEndpoint = "https://video.bunnycdn.com"
	listPageSize    = 100
)

type Config struct {
	Endpoint  string
	LibraryID string
	APIKey    string
	// Upper bound for a single call to the streaming service
	Timeout time.Duration
	// How long an upload credential stays valid
	CredentialTTL time.Duration
}

// Client is a Bunny Stream API client scoped to a single video library
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.LibraryID == "" {
		return nil, fmt.Errorf("stream library id can't be empty")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("stream api key can't be empty")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = 24 * time.Hour
	}

	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}, nil
}

func (c *Client) LibraryID() string {
	return c.cfg.LibraryID
}

// APIError is a non 2xx answer from the streaming service
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stream api responded with %d: %s", e.StatusCode, e.Body)
}

// errorBody is the JSON error the streaming service itself answers with
type errorBody struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// missingVideo reports whether a 404 came from the streaming service. A
// bare 404 from a proxy or a wrong endpoint stays an *APIError, since
// callers delete local state on ErrNotFound.
func missingVideo(body []byte) bool {
	var e errorBody
	if err := json.Unmarshal(body, &e); err != nil {
		return false
	}

	return !e.Success && e.StatusCode == http.StatusNotFound
}

func (c *Client) videosPath(libraryID string, parts ...string) string {
	p := c.cfg.Endpoint + "/library/" + url.PathEscape(libraryID) + "/videos"
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}

	return p
}

// do sends a request and decodes a JSON answer into out, if out isn't nil.
// Every call gets its own deadline so one stuck request can't hold up a
// whole reconciliation cycle.
func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request, %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request, %w", err)
	}

	req.Header.Set("AccessKey", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("stream api %s %s failed, %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read stream api response, %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && missingVideo(respBody) {
		return ErrNotFound
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("malformed stream api response, %w", err)
	}

	return nil
}

func (c *Client) CreateVideo(ctx context.Context, title string) (*Video, error) {
	var v Video

	err := c.do(ctx, http.MethodPost, c.videosPath(c.cfg.LibraryID), map[string]string{"title": title}, &v)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("Created remote video", zap.String("guid", v.GUID))
	return &v, nil
}

func (c *Client) UpdateMetaTags(ctx context.Context, guid string, tags []MetaTag) error {
	return c.do(ctx, http.MethodPost, c.videosPath(c.cfg.LibraryID, guid), map[string]any{"metaTags": tags}, nil)
}

// RetrieveVideo returns ErrNotFound when the library has no such video
func (c *Client) RetrieveVideo(ctx context.Context, guid string) (*Video, error) {
	var v Video

	if err := c.do(ctx, http.MethodGet, c.videosPath(c.cfg.LibraryID, guid), nil, &v); err != nil {
		return nil, err
	}

	return &v, nil
}

type listResponse struct {
	TotalItems   int     `json:"totalItems"`
	CurrentPage  int     `json:"currentPage"`
	ItemsPerPage int     `json:"itemsPerPage"`
	Items        []Video `json:"items"`
}

// ListVideos walks every page of the library. A failure on any page fails
// the whole listing, callers never see a partial library. A library that
// changes while it is walked fails the listing with ErrListChanged.
func (c *Client) ListVideos(ctx context.Context, libraryID string) ([]Video, error) {
	var videos []Video
	total := -1

	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("itemsPerPage", strconv.Itoa(listPageSize))
		q.Set("orderBy", "date")

		var resp listResponse
		if err := c.do(ctx, http.MethodGet, c.videosPath(libraryID)+"?"+q.Encode(), nil, &resp); err != nil {
			return nil, err
		}

		if total < 0 {
			total = resp.TotalItems
		} else if resp.TotalItems != total {
			return nil, fmt.Errorf("%w, total went from %d to %d on page %d", ErrListChanged, total, resp.TotalItems, page)
		}

		videos = append(videos, resp.Items...)

		if len(videos) >= total || len(resp.Items) < listPageSize {
			if len(videos) != total {
				return nil, fmt.Errorf("%w, got %d of %d videos", ErrListChanged, len(videos), total)
			}

			return videos, nil
		}
	}
}

func (c *Client) DeleteVideo(ctx context.Context, guid string) error {
	err := c.do(ctx, http.MethodDelete, c.videosPath(c.cfg.LibraryID, guid), nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}

	return err
}

// CreateUploadCredential signs a TUS upload for guid. The signature is
// sha256(library_id + api_key + expiration_time + video_id).
func (c *Client) CreateUploadCredential(ctx context.Context, guid string) (*model.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	expires := c.now().Add(c.cfg.CredentialTTL).Unix()

	h := sha256.New()
	h.Write([]byte(c.cfg.LibraryID + c.cfg.APIKey + strconv.FormatInt(expires, 10) + guid))

	return &model.Credential{
		Signature: hex.EncodeToString(h.Sum(nil)),
		ExpiresAt: expires,
		LibraryID: c.cfg.LibraryID,
		VideoID:   guid,
	}, nil
}
