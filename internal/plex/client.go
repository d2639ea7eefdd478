// Package plex implements the target catalog against the Plex Media
// Server HTTP API. Responses are XML; playlist mutations address tracks by
// rating key through server:// metadata URIs.
package plex

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"plexsync/internal/core"
)

// trackChunkSize bounds the number of rating keys per mutation request;
// longer URIs get rejected by the server.
const trackChunkSize = 300

const metadataURIPrefix = "server://%s/com.plexapp.plugins.library/library/metadata/%s"

type serverIdentity struct {
	XMLName           xml.Name `xml:"MediaContainer"`
	FriendlyName      string   `xml:"friendlyName,attr"`
	MachineIdentifier string   `xml:"machineIdentifier,attr"`
	Version           string   `xml:"version,attr"`
}

type mediaContainer struct {
	XMLName     xml.Name      `xml:"MediaContainer"`
	Tracks      []xmlTrack    `xml:"Track"`
	Playlists   []xmlPlaylist `xml:"Playlist"`
	Directories []xmlSection  `xml:"Directory"`
}

type xmlTrack struct {
	RatingKey string `xml:"ratingKey,attr"`
	Title     string `xml:"title,attr"`
	Artist    string `xml:"grandparentTitle,attr"`
	Album     string `xml:"parentTitle,attr"`
	Duration  int    `xml:"duration,attr"`
}

type xmlPlaylist struct {
	RatingKey string `xml:"ratingKey,attr"`
	Title     string `xml:"title,attr"`
	LeafCount int    `xml:"leafCount,attr"`
}

type xmlSection struct {
	Key   string `xml:"key,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

// Client talks to one Plex server. It implements core.TargetCatalog.
// Search calls are rate limited; the server throttles bursty clients.
type Client struct {
	logger      *zap.Logger
	httpClient  *http.Client
	baseURL     string
	token       string
	userTokens  map[string]string
	sectionID   string
	serverID    string
	searchLimit int
	limiter     *rate.Limiter

	// owner maps playlist rating keys to the user whose token found or
	// created them, so ID-addressed mutations run in the right context.
	ownerMu sync.Mutex
	owner   map[string]string
}

func NewClient(config core.PlexConfig, logger *zap.Logger) *Client {
	transport := http.DefaultTransport
	if config.SkipTLSVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in for self-signed servers
		}
	}

	burst := int(config.SearchRate)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		logger:      logger.Named("plex"),
		httpClient:  &http.Client{Transport: transport},
		baseURL:     strings.TrimRight(config.ServerURL, "/"),
		token:       config.Token,
		userTokens:  config.UserTokens,
		sectionID:   config.MusicSection,
		searchLimit: config.SearchLimit,
		limiter:     rate.NewLimiter(rate.Limit(config.SearchRate), burst),
		owner:       make(map[string]string),
	}
}

// Connect resolves the server's machine identifier and, when no section is
// configured, discovers the music library section. Must be called once
// before any catalog operation.
func (c *Client) Connect(ctx context.Context) error {
	var identity serverIdentity
	if err := c.get(ctx, c.token, "/", nil, &identity); err != nil {
		return err
	}
	c.serverID = identity.MachineIdentifier
	c.logger.Info("Connected to Plex server",
		zap.String("name", identity.FriendlyName),
		zap.String("version", identity.Version))

	if c.sectionID != "" {
		return nil
	}

	var sections mediaContainer
	if err := c.get(ctx, c.token, "/library/sections", nil, &sections); err != nil {
		return err
	}
	for _, section := range sections.Directories {
		if section.Type == "artist" {
			c.sectionID = section.Key
			c.logger.Info("Discovered music section",
				zap.String("section", section.Key),
				zap.String("title", section.Title))
			return nil
		}
	}
	return fmt.Errorf("no music library section on server: %w", core.ErrNotFound)
}

// Ping checks server reachability and token validity.
func (c *Client) Ping(ctx context.Context) error {
	var identity serverIdentity
	return c.get(ctx, c.token, "/", nil, &identity)
}

// SearchLibrary queries the music section for tracks matching the title.
// Candidates come back in the server's relevance order.
func (c *Client) SearchLibrary(ctx context.Context, query core.SearchQuery) ([]core.MatchCandidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("query", query.Title)
	params.Set("type", "10") // music tracks
	if c.searchLimit > 0 {
		params.Set("limit", fmt.Sprint(c.searchLimit))
	}

	var container mediaContainer
	path := fmt.Sprintf("/library/sections/%s/search", c.sectionID)
	if err := c.get(ctx, c.token, path, params, &container); err != nil {
		return nil, err
	}

	candidates := make([]core.MatchCandidate, 0, len(container.Tracks))
	for _, track := range container.Tracks {
		candidates = append(candidates, core.MatchCandidate{
			TargetID:   track.RatingKey,
			Title:      track.Title,
			Artists:    []string{track.Artist},
			Album:      track.Album,
			DurationMs: track.Duration,
		})
	}
	return candidates, nil
}

// GetPlaylist looks up an audio playlist by exact title in the user's
// context. Returns nil without error when no such playlist exists.
func (c *Client) GetPlaylist(ctx context.Context, user, title string) (*core.TargetPlaylist, error) {
	token := c.tokenFor(user)

	params := url.Values{}
	params.Set("playlistType", "audio")

	var container mediaContainer
	if err := c.get(ctx, token, "/playlists", params, &container); err != nil {
		return nil, err
	}

	for _, playlist := range container.Playlists {
		if playlist.Title != title {
			continue
		}

		var items mediaContainer
		path := fmt.Sprintf("/playlists/%s/items", playlist.RatingKey)
		if err := c.get(ctx, token, path, nil, &items); err != nil {
			return nil, err
		}

		trackIDs := make([]string, 0, len(items.Tracks))
		for _, track := range items.Tracks {
			trackIDs = append(trackIDs, track.RatingKey)
		}

		c.rememberOwner(playlist.RatingKey, user)
		return &core.TargetPlaylist{
			ID:              playlist.RatingKey,
			CurrentTrackIDs: trackIDs,
		}, nil
	}
	return nil, nil
}

// CreatePlaylist creates an audio playlist holding trackIDs in order.
// Plex accepts a bounded URI per request, so long lists are created with
// the first chunk and extended with the rest.
func (c *Client) CreatePlaylist(ctx context.Context, user, title string, trackIDs []string) (string, error) {
	token := c.tokenFor(user)

	first := trackIDs
	if len(first) > trackChunkSize {
		first = trackIDs[:trackChunkSize]
	}

	params := url.Values{}
	params.Set("type", "audio")
	params.Set("title", title)
	params.Set("smart", "0")
	params.Set("uri", c.metadataURI(first))

	var container mediaContainer
	if err := c.request(ctx, http.MethodPost, token, "/playlists", params, &container); err != nil {
		return "", err
	}
	if len(container.Playlists) == 0 {
		return "", core.Transientf("playlist creation returned no metadata")
	}
	id := container.Playlists[0].RatingKey
	c.rememberOwner(id, user)

	for _, chunk := range chunkTrackIDs(trackIDs[len(first):]) {
		if err := c.appendChunk(ctx, token, id, chunk); err != nil {
			return id, err
		}
	}

	c.logger.Info("Created playlist",
		zap.String("title", title),
		zap.String("user", user),
		zap.Int("tracks", len(trackIDs)))
	return id, nil
}

// SetPlaylistTracks replaces the playlist content with exactly trackIDs.
func (c *Client) SetPlaylistTracks(ctx context.Context, id string, trackIDs []string) error {
	token := c.tokenForPlaylist(id)

	path := fmt.Sprintf("/playlists/%s/items", id)
	if err := c.request(ctx, http.MethodDelete, token, path, nil, nil); err != nil {
		return err
	}

	for _, chunk := range chunkTrackIDs(trackIDs) {
		if err := c.appendChunk(ctx, token, id, chunk); err != nil {
			return err
		}
	}
	return nil
}

// AppendPlaylistTracks adds trackIDs to the end of the playlist.
func (c *Client) AppendPlaylistTracks(ctx context.Context, id string, trackIDs []string) error {
	token := c.tokenForPlaylist(id)
	for _, chunk := range chunkTrackIDs(trackIDs) {
		if err := c.appendChunk(ctx, token, id, chunk); err != nil {
			return err
		}
	}
	return nil
}

// SetPlaylistArt points the playlist poster at an image URL.
func (c *Client) SetPlaylistArt(ctx context.Context, id, artURL string) error {
	params := url.Values{}
	params.Set("url", artURL)
	path := fmt.Sprintf("/playlists/%s/posters", id)
	return c.request(ctx, http.MethodPost, c.tokenForPlaylist(id), path, params, nil)
}

// DeletePlaylist removes the playlist entirely.
func (c *Client) DeletePlaylist(ctx context.Context, id string) error {
	path := fmt.Sprintf("/playlists/%s", id)
	return c.request(ctx, http.MethodDelete, c.tokenForPlaylist(id), path, nil, nil)
}

func (c *Client) appendChunk(ctx context.Context, token, id string, chunk []string) error {
	params := url.Values{}
	params.Set("uri", c.metadataURI(chunk))
	path := fmt.Sprintf("/playlists/%s/items", id)
	return c.request(ctx, http.MethodPut, token, path, params, nil)
}

func (c *Client) metadataURI(trackIDs []string) string {
	return fmt.Sprintf(metadataURIPrefix, c.serverID, strings.Join(trackIDs, ","))
}

func chunkTrackIDs(trackIDs []string) [][]string {
	var chunks [][]string
	for len(trackIDs) > 0 {
		n := len(trackIDs)
		if n > trackChunkSize {
			n = trackChunkSize
		}
		chunks = append(chunks, trackIDs[:n])
		trackIDs = trackIDs[n:]
	}
	return chunks
}

// tokenFor returns the access token for a user, falling back to the
// server token for the default identity.
func (c *Client) tokenFor(user string) string {
	if token, ok := c.userTokens[user]; ok && token != "" {
		return token
	}
	return c.token
}

func (c *Client) tokenForPlaylist(id string) string {
	c.ownerMu.Lock()
	user, ok := c.owner[id]
	c.ownerMu.Unlock()
	if !ok {
		return c.token
	}
	return c.tokenFor(user)
}

func (c *Client) rememberOwner(id, user string) {
	c.ownerMu.Lock()
	c.owner[id] = user
	c.ownerMu.Unlock()
}

func (c *Client) get(ctx context.Context, token, path string, params url.Values, out any) error {
	return c.request(ctx, http.MethodGet, token, path, params, out)
}

// request issues one API call and decodes the XML response into out when
// out is non-nil. Status codes map onto the error taxonomy.
func (c *Client) request(ctx context.Context, method, token, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("X-Plex-Token", token)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, err, core.ErrTransient)
	}
	defer resp.Body.Close()

	if err := classifyStatus(method, path, resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return err
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w: %w", method, path, err, core.ErrTransient)
	}
	return nil
}

func classifyStatus(method, path string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s %s: status %d: %w", method, path, status, core.ErrAuth)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s %s: status %d: %w", method, path, status, core.ErrNotFound)
	default:
		return fmt.Errorf("%s %s: status %d: %w", method, path, status, core.ErrTransient)
	}
}
