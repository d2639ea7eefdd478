// Package lidarr reads Spotify playlist IDs from a Lidarr server's import
// lists, so lists managed there sync without duplicating configuration.
package lidarr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"plexsync/internal/core"
)

type importList struct {
	Name     string      `json:"name"`
	ListType string      `json:"listType"`
	Enabled  bool        `json:"enableAutomaticAdd"`
	Fields   []listField `json:"fields"`
}

type listField struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Client implements core.ImportSource against the Lidarr v1 API.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewClient(config core.LidarrConfig, logger *zap.Logger) *Client {
	return &Client{
		logger:     logger.Named("lidarr"),
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
	}
}

// PlaylistIDs returns the Spotify playlist IDs configured across all
// Spotify-type import lists, in API order, deduplicated.
func (c *Client) PlaylistIDs(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/importlist", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building import list request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching import lists: %w: %w", err, core.ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("import list request: status %d: %w", resp.StatusCode, core.ErrAuth)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("import list request: status %d: %w", resp.StatusCode, core.ErrTransient)
	}

	var lists []importList
	if err := json.NewDecoder(resp.Body).Decode(&lists); err != nil {
		return nil, fmt.Errorf("decoding import lists: %w: %w", err, core.ErrTransient)
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, list := range lists {
		if !strings.EqualFold(list.ListType, "spotify") {
			continue
		}
		for _, id := range playlistIDField(list) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	c.logger.Info("Collected playlists from import lists",
		zap.Int("lists", len(lists)),
		zap.Int("playlists", len(ids)))
	return ids, nil
}

// playlistIDField digs the playlistIds value out of a list's field bag.
// Lidarr serializes it as an array of strings.
func playlistIDField(list importList) []string {
	for _, field := range list.Fields {
		if field.Name != "playlistIds" {
			continue
		}
		values, ok := field.Value.([]any)
		if !ok {
			return nil
		}
		ids := make([]string, 0, len(values))
		for _, v := range values {
			if id, ok := v.(string); ok && id != "" {
				ids = append(ids, id)
			}
		}
		return ids
	}
	return nil
}

// Ping verifies API reachability and key validity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.PlaylistIDs(ctx)
	return err
}
