// Package spotify implements the source catalog against the Spotify Web
// API using client-credentials authentication.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"plexsync/internal/core"
)

const pageLimit = 100

var (
	playlistURLRegex = regexp.MustCompile(`(?:https?://)?(?:open\.)?spotify\.com/playlist/([a-zA-Z0-9]+)`)
	playlistURIRegex = regexp.MustCompile(`spotify:playlist:([a-zA-Z0-9]+)`)
)

// Generated playlists whose titles repeat across weeks get the sync date
// appended so successive syncs produce distinct target playlists.
var datedTitlePrefixes = []string{"Discover Weekly", "Daily Mix"}

// Client reads playlists from Spotify. It implements core.SourceCatalog.
type Client struct {
	logger *zap.Logger
	client *spotify.Client
	now    func() time.Time
}

// NewClient authenticates with the client-credentials flow. Reading public
// playlist metadata needs no user consent, so no OAuth redirect dance.
func NewClient(ctx context.Context, config core.SpotifyConfig, logger *zap.Logger) (*Client, error) {
	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, fmt.Errorf("spotify credentials missing: %w", core.ErrAuth)
	}

	creds := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	token, err := creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("spotify token request failed: %w", core.ErrAuth)
	}

	httpClient := spotifyauth.New().Client(ctx, token)
	return &Client{
		logger: logger.Named("spotify"),
		client: spotify.New(httpClient),
		now:    time.Now,
	}, nil
}

// ExtractPlaylistID accepts a bare playlist ID, an open.spotify.com URL or
// a spotify: URI and returns the canonical ID.
func ExtractPlaylistID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if m := playlistURLRegex.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}
	if m := playlistURIRegex.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}
	if raw != "" && !strings.ContainsAny(raw, "/: ") {
		return raw, nil
	}
	return "", fmt.Errorf("unrecognized playlist reference %q", raw)
}

// ListPlaylistTracks returns the playlist's tracks in playlist order.
// Episodes and unreadable items are skipped.
func (c *Client) ListPlaylistTracks(ctx context.Context, playlistID string) ([]core.TrackDescriptor, error) {
	var tracks []core.TrackDescriptor
	offset := 0

	for {
		items, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
			spotify.Limit(pageLimit), spotify.Offset(offset))
		if err != nil {
			return nil, c.classify("get playlist items", playlistID, err)
		}

		for i := range items.Items {
			track := items.Items[i].Track.Track
			if track == nil {
				continue
			}

			artists := make([]string, 0, len(track.Artists))
			for _, artist := range track.Artists {
				artists = append(artists, artist.Name)
			}

			tracks = append(tracks, core.TrackDescriptor{
				Title:      track.Name,
				Artists:    artists,
				Album:      track.Album.Name,
				DurationMs: int(track.Duration),
				SourceID:   string(track.ID),
			})
		}

		if len(items.Items) < pageLimit {
			break
		}
		offset += pageLimit
	}

	c.logger.Info("Retrieved playlist tracks",
		zap.String("playlistID", playlistID),
		zap.Int("count", len(tracks)))

	return tracks, nil
}

// GetPlaylistTitle returns the playlist name, with the sync date appended
// for rotating generated playlists.
func (c *Client) GetPlaylistTitle(ctx context.Context, playlistID string) (string, error) {
	playlist, err := c.client.GetPlaylist(ctx, spotify.ID(playlistID))
	if err != nil {
		return "", c.classify("get playlist", playlistID, err)
	}
	return DecorateTitle(playlist.Name, c.now()), nil
}

// GetCoverArt returns the URL of the playlist's primary cover image, or
// empty when the playlist has none.
func (c *Client) GetCoverArt(ctx context.Context, playlistID string) (string, error) {
	playlist, err := c.client.GetPlaylist(ctx, spotify.ID(playlistID))
	if err != nil {
		return "", c.classify("get playlist", playlistID, err)
	}
	if len(playlist.Images) == 0 {
		return "", nil
	}
	return playlist.Images[0].URL, nil
}

// Ping verifies API connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.Search(ctx, "test", spotify.SearchTypeTrack, spotify.Limit(1))
	if err != nil {
		return c.classify("search", "", err)
	}
	return nil
}

// DecorateTitle appends the UTC date to titles of generated playlists that
// rotate content under a fixed name.
func DecorateTitle(title string, now time.Time) string {
	for _, prefix := range datedTitlePrefixes {
		if strings.HasPrefix(title, prefix) {
			return title + " " + now.UTC().Format("2006-01-02")
		}
	}
	return title
}

// classify maps Spotify API failures onto the error taxonomy: 404 is a
// permanent not-found, 401/403 an auth failure, everything else transient.
func (c *Client) classify(op, playlistID string, err error) error {
	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", op, playlistID, core.ErrNotFound)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s %s: %w", op, playlistID, core.ErrAuth)
		}
	}
	c.logger.Debug("Spotify call failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s %s: %w: %w", op, playlistID, err, core.ErrTransient)
}
