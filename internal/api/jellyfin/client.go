package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/watchhero/jellyfin-watch-sync/internal/logger"
	"github.com/watchhero/jellyfin-watch-sync/internal/models"
	"github.com/watchhero/jellyfin-watch-sync/internal/util"
)

const (
	// authHeader is the legacy Emby token header both Jellyfin and Emby accept
	authHeader = "X-Emby-Token"

	// itemsPageSize is the page size for watched-item listings
	itemsPageSize = 200
)

// Client is a client for one Jellyfin server's REST API
type Client struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	pacer   *util.Pacer
	logger  *logger.Logger
}

// NewClient creates a new Jellyfin client. The name ("source" or
// "destination") is used in log lines and error messages.
func NewClient(name, baseURL, apiKey string) *Client {
	log := logger.Get().With(map[string]interface{}{
		"component": "jellyfin_client",
		"server":    name,
	})

	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		pacer:  util.NewPacer(util.DefaultInterval),
		logger: log,
	}
}

// Name returns the label this client was created with
func (c *Client) Name() string {
	return c.name
}

// do issues a paced, authenticated request and returns the response.
// Transport-level failures are translated to *NetworkError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Response, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(authHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Server: c.name, Op: method + " " + path, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		delay := c.pacer.Backoff(retryAfter)
		c.logger.Warn("Server rate limited us, slowing down", map[string]interface{}{
			"delay": delay.String(),
		})
	} else {
		// Server accepted the request, pacing can recover
		c.pacer.Reset()
	}

	return resp, nil
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// authFailed maps an auth-rejection status to *AuthError
func (c *Client) authFailed(status int) error {
	return &AuthError{Server: c.name, Status: status}
}

// ListUsers fetches all user accounts from the server
func (c *Client) ListUsers(ctx context.Context) ([]models.UserRecord, error) {
	const endpoint = "/Users"
	log := c.logger.With(map[string]interface{}{"endpoint": endpoint})

	resp, err := c.do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, c.authFailed(resp.StatusCode)
	default:
		return nil, &statusError{Op: "list users", Status: resp.StatusCode}
	}

	var users []models.UserRecord
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("failed to decode user list: %w", err)
	}

	log.Debug("Fetched users", map[string]interface{}{"count": len(users)})
	return users, nil
}

// CreateUser creates a user account with the given name and no password
func (c *Client) CreateUser(ctx context.Context, name string) (*models.UserRecord, error) {
	const endpoint = "/Users/New"
	log := c.logger.With(map[string]interface{}{
		"endpoint": endpoint,
		"user":     name,
	})

	resp, err := c.do(ctx, http.MethodPost, endpoint, nil, models.NewUserRequest{Name: name})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, c.authFailed(resp.StatusCode)
	case http.StatusConflict:
		return nil, &ConflictError{Name: name}
	case http.StatusBadRequest:
		body, _ := io.ReadAll(resp.Body)
		return nil, &ValidationError{Name: name, Detail: strings.TrimSpace(string(body))}
	default:
		return nil, &statusError{Op: "create user", Status: resp.StatusCode}
	}

	var user models.UserRecord
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode created user: %w", err)
	}

	log.Info("Created user", map[string]interface{}{"id": user.ID})
	return &user, nil
}

// WatchedItems returns every item the user has played or has progress on.
// The listing is paged server-side; each call walks the pages from the
// start, so the caller can simply re-request it.
func (c *Client) WatchedItems(ctx context.Context, userID string) ([]models.WatchedItem, error) {
	endpoint := fmt.Sprintf("/Users/%s/Items", userID)
	log := c.logger.With(map[string]interface{}{
		"endpoint": endpoint,
		"user_id":  userID,
	})

	var watched []models.WatchedItem
	startIndex := 0
	for {
		query := url.Values{}
		query.Set("Filters", "IsPlayed")
		query.Set("Recursive", "true")
		query.Set("Fields", "UserData")
		query.Set("Limit", strconv.Itoa(itemsPageSize))
		query.Set("StartIndex", strconv.Itoa(startIndex))

		resp, err := c.do(ctx, http.MethodGet, endpoint, query, nil)
		if err != nil {
			return nil, err
		}

		page, err := c.decodeItemsPage(resp)
		if err != nil {
			return nil, err
		}
		if len(page.Items) == 0 {
			break
		}

		for _, envelope := range page.Items {
			item := envelope.WatchedItem()
			if item.HasProgress() {
				watched = append(watched, item)
			}
		}

		startIndex += len(page.Items)
		if startIndex >= page.TotalRecordCount {
			break
		}
	}

	log.Debug("Fetched watched items", map[string]interface{}{"count": len(watched)})
	return watched, nil
}

func (c *Client) decodeItemsPage(resp *http.Response) (*models.ItemsPage, error) {
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, c.authFailed(resp.StatusCode)
	default:
		return nil, &statusError{Op: "list watched items", Status: resp.StatusCode}
	}

	var page models.ItemsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode items page: %w", err)
	}
	return &page, nil
}

// ItemExists probes whether the item is present in this server's catalog
// for the given user. A 404 means "no", not an error.
func (c *Client) ItemExists(ctx context.Context, userID, itemID string) (bool, error) {
	endpoint := fmt.Sprintf("/Users/%s/Items/%s", userID, itemID)

	resp, err := c.do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, c.authFailed(resp.StatusCode)
	default:
		return false, &statusError{Op: "item lookup", Status: resp.StatusCode}
	}
}

// SetPlaybackState replays the source playback state for one item onto
// this server. The write is an idempotent upsert: marking an item played
// twice with the same date and position leaves the server unchanged.
// The source play count is not transmitted; the server maintains its own
// count and advances it when the item is marked played.
func (c *Client) SetPlaybackState(ctx context.Context, userID, itemID string, item models.WatchedItem) error {
	if item.Played {
		if err := c.markPlayed(ctx, userID, itemID, item.LastPlayedDate); err != nil {
			return err
		}
	}
	if item.PlaybackPositionTicks > 0 {
		if err := c.updateProgress(ctx, userID, itemID, item.PlaybackPositionTicks); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) markPlayed(ctx context.Context, userID, itemID string, playedAt *time.Time) error {
	endpoint := fmt.Sprintf("/Users/%s/PlayedItems/%s", userID, itemID)

	var query url.Values
	if playedAt != nil {
		query = url.Values{}
		query.Set("DatePlayed", playedAt.UTC().Format(time.RFC3339))
	}

	resp, err := c.do(ctx, http.MethodPost, endpoint, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return &NotFoundError{ItemID: itemID}
	case http.StatusUnauthorized, http.StatusForbidden:
		return c.authFailed(resp.StatusCode)
	default:
		return &statusError{Op: "mark played", Status: resp.StatusCode}
	}
}

func (c *Client) updateProgress(ctx context.Context, userID, itemID string, positionTicks int64) error {
	endpoint := fmt.Sprintf("/Users/%s/PlayingItems/%s/Progress", userID, itemID)

	// IsPaused keeps the server from treating this as an active session
	body := models.ProgressUpdate{
		PositionTicks: positionTicks,
		IsPaused:      true,
	}

	resp, err := c.do(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return &NotFoundError{ItemID: itemID}
	case http.StatusUnauthorized, http.StatusForbidden:
		return c.authFailed(resp.StatusCode)
	default:
		return &statusError{Op: "update progress", Status: resp.StatusCode}
	}
}
