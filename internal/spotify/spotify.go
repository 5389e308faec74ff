// Package spotify is the music-metadata API connector. The client handles
// client-credentials auth with transparent token refresh; all fetch failures
// wrap dataset.ErrFetch.
package spotify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"popscore-backend/internal/dataset"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL  = "https://api.spotify.com/v1"
	DefaultTokenURL = "https://accounts.spotify.com/api/token"

	// Batch limits imposed by the API per endpoint.
	audioFeaturesBatchSize = 100
	tracksBatchSize        = 50
	artistsBatchSize       = 50

	pageLimit      = 50
	requestTimeout = 30 * time.Second
	tokenSlack     = 30 * time.Second
)

// ErrAlbumNotFound reports a search with no hits. It wraps dataset.ErrFetch
// so callers that only care about fetch failures still match.
var ErrAlbumNotFound = fmt.Errorf("%w: album not found", dataset.ErrFetch)

// Config carries the API credentials and endpoints. Credentials are explicit
// here rather than cached globally.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
}

type Client struct {
	client *resty.Client
	auth   *resty.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetRetryCount(1).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() == http.StatusTooManyRequests
		}).
		SetRetryAfter(func(c *resty.Client, r *resty.Response) (time.Duration, error) {
			// Honor the Retry-After header on rate limits.
			if secs, err := strconv.Atoi(r.Header().Get("Retry-After")); err == nil {
				return time.Duration(secs) * time.Second, nil
			}
			return time.Second, nil
		})

	auth := resty.New().
		SetBaseURL(tokenURL).
		SetBasicAuth(cfg.ClientID, cfg.ClientSecret)

	return &Client{client: client, auth: auth}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// bearer returns a valid access token, requesting a fresh one when the
// cached token is missing or about to expire.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenSlack)) {
		return c.token, nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var token tokenResponse
	res, err := c.auth.R().
		SetContext(ctx).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&token).
		Post("")

	if err != nil {
		return "", fmt.Errorf("%w: requesting access token: %v", dataset.ErrFetch, err)
	}
	if !res.IsSuccess() {
		return "", fmt.Errorf("%w: token endpoint returned status %d: %s", dataset.ErrFetch, res.StatusCode(), res.String())
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: token endpoint returned empty access token", dataset.ErrFetch)
	}

	c.token = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	slog.Debug("refreshed spotify access token", "expires_in", token.ExpiresIn)

	return c.token, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	res, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(params).
		SetResult(out).
		Get(path)

	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", dataset.ErrFetch, path, err)
	}
	if res.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: GET %s: not found", dataset.ErrFetch, path)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("%w: GET %s returned status %d: %s", dataset.ErrFetch, path, res.StatusCode(), res.String())
	}
	return nil
}

type ArtistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Artists []ArtistRef `json:"artists"`
}

type AlbumTrack struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AudioFeatures is the per-track numeric descriptor record.
type AudioFeatures struct {
	ID               string  `json:"id"`
	DurationMS       int     `json:"duration_ms"`
	Tempo            float64 `json:"tempo"`
	Key              int     `json:"key"`
	Mode             int     `json:"mode"`
	TimeSignature    int     `json:"time_signature"`
	Danceability     float64 `json:"danceability"`
	Energy           float64 `json:"energy"`
	Loudness         float64 `json:"loudness"`
	Speechiness      float64 `json:"speechiness"`
	Acousticness     float64 `json:"acousticness"`
	Instrumentalness float64 `json:"instrumentalness"`
	Liveness         float64 `json:"liveness"`
	Valence          float64 `json:"valence"`
}

type Track struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Popularity int         `json:"popularity"`
	Artists    []ArtistRef `json:"artists"`
}

// PrimaryArtistID is the id of the track's first listed artist.
func (t Track) PrimaryArtistID() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0].ID
}

type Artist struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Followers struct {
		Total int `json:"total"`
	} `json:"followers"`
}

// SearchAlbum looks an album up by name and artist, returning the first hit.
// A query with no results is a fetch failure wrapping dataset.ErrFetch.
func (c *Client) SearchAlbum(ctx context.Context, album, artist string) (*Album, error) {
	var out struct {
		Albums struct {
			Items []Album `json:"items"`
		} `json:"albums"`
	}

	query := fmt.Sprintf("album:%s artist:%s", album, artist)
	err := c.get(ctx, "/search", map[string]string{"q": query, "type": "album", "limit": "1"}, &out)
	if err != nil {
		return nil, err
	}

	if len(out.Albums.Items) == 0 {
		return nil, fmt.Errorf("%w for %q by %q", ErrAlbumNotFound, album, artist)
	}
	return &out.Albums.Items[0], nil
}

// AlbumTracks pages through all tracks of an album.
func (c *Client) AlbumTracks(ctx context.Context, albumID string) ([]AlbumTrack, error) {
	var tracks []AlbumTrack

	for offset := 0; ; offset += pageLimit {
		var page struct {
			Items []AlbumTrack `json:"items"`
			Next  string       `json:"next"`
		}

		params := map[string]string{
			"limit":  strconv.Itoa(pageLimit),
			"offset": strconv.Itoa(offset),
		}
		if err := c.get(ctx, "/albums/"+albumID+"/tracks", params, &page); err != nil {
			return nil, err
		}

		tracks = append(tracks, page.Items...)
		if page.Next == "" || len(page.Items) == 0 {
			break
		}
	}

	return tracks, nil
}

// AudioFeatures fetches audio features for up to 100 tracks per call,
// batching longer id lists transparently.
func (c *Client) AudioFeatures(ctx context.Context, trackIDs []string) ([]AudioFeatures, error) {
	var features []AudioFeatures

	for _, batch := range batches(trackIDs, audioFeaturesBatchSize) {
		var out struct {
			AudioFeatures []AudioFeatures `json:"audio_features"`
		}
		if err := c.get(ctx, "/audio-features", map[string]string{"ids": join(batch)}, &out); err != nil {
			return nil, err
		}
		features = append(features, out.AudioFeatures...)
	}

	return features, nil
}

// Tracks fetches full track records (popularity, artists) in batches of 50.
func (c *Client) Tracks(ctx context.Context, trackIDs []string) ([]Track, error) {
	var tracks []Track

	for _, batch := range batches(trackIDs, tracksBatchSize) {
		var out struct {
			Tracks []Track `json:"tracks"`
		}
		if err := c.get(ctx, "/tracks", map[string]string{"ids": join(batch)}, &out); err != nil {
			return nil, err
		}
		tracks = append(tracks, out.Tracks...)
	}

	return tracks, nil
}

// Artists fetches artist records (follower counts) in batches of 50.
func (c *Client) Artists(ctx context.Context, artistIDs []string) ([]Artist, error) {
	var artists []Artist

	for _, batch := range batches(artistIDs, artistsBatchSize) {
		var out struct {
			Artists []Artist `json:"artists"`
		}
		if err := c.get(ctx, "/artists", map[string]string{"ids": join(batch)}, &out); err != nil {
			return nil, err
		}
		artists = append(artists, out.Artists...)
	}

	return artists, nil
}

func batches(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func join(ids []string) string {
	return strings.Join(ids, ",")
}
