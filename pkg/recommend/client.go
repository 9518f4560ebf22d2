package recommend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrUnavailable reports an HTTP or API failure from the recommendation
// service. Callers treat it as "zero candidates", never as fatal.
var ErrUnavailable = errors.New("recommendation service unavailable")

// Candidate is one similar-track suggestion
type Candidate struct {
	Name   string
	Artist string
	Match  float64
}

type cacheEntry struct {
	candidates []Candidate
	expiresAt  time.Time
}

// Client calls the similarity-recommendation API. Responses are cached
// in memory for a short TTL, autoplay tends to re-query the same artists.
type Client struct {
	baseURL    string
	apiKey     string
	limit      int
	httpClient *http.Client

	cacheMutex sync.RWMutex
	cache      map[string]cacheEntry
	cacheTTL   time.Duration
}

// NewClient creates a recommendation client
func NewClient(apiKey string) *Client {
	return &Client{
		baseURL: "https://ws.audioscrobbler.com/2.0/",
		apiKey:  apiKey,
		limit:   10,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:    make(map[string]cacheEntry),
		cacheTTL: 5 * time.Minute,
	}
}

// SetBaseURL overrides the API endpoint
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// SimilarTracks returns up to the configured limit of tracks similar to
// the given artist+title, best matches first
func (c *Client) SimilarTracks(ctx context.Context, artist, title string) ([]Candidate, error) {
	cacheKey := strings.ToLower(artist + "|" + title)
	if cached, ok := c.getFromCache(cacheKey); ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("method", "track.getsimilar")
	params.Set("artist", artist)
	params.Set("track", title)
	params.Set("autocorrect", "1")
	params.Set("limit", strconv.Itoa(c.limit))
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrUnavailable, "status %d", resp.StatusCode)
	}

	var body similarTracksResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}

	candidates := make([]Candidate, 0, len(body.SimilarTracks.Track))
	for _, t := range body.SimilarTracks.Track {
		candidates = append(candidates, Candidate{
			Name:   t.Name,
			Artist: t.Artist.Name,
			Match:  float64(t.Match),
		})
	}

	c.setCache(cacheKey, candidates)
	return candidates, nil
}

func (c *Client) getFromCache(key string) ([]Candidate, bool) {
	c.cacheMutex.RLock()
	defer c.cacheMutex.RUnlock()
	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.candidates, true
}

func (c *Client) setCache(key string, candidates []Candidate) {
	c.cacheMutex.Lock()
	defer c.cacheMutex.Unlock()
	c.cache[key] = cacheEntry{
		candidates: candidates,
		expiresAt:  time.Now().Add(c.cacheTTL),
	}
}

type similarTracksResponse struct {
	SimilarTracks struct {
		Track []struct {
			Name   string    `json:"name"`
			Match  flexFloat `json:"match"`
			Artist struct {
				Name string `json:"name"`
			} `json:"artist"`
		} `json:"track"`
	} `json:"similartracks"`
}

// flexFloat tolerates the API sending match scores as either numbers or
// quoted strings
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	if trimmed == "" || trimmed == "null" {
		*f = 0
		return nil
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(value)
	return nil
}
