// Package openstore talks to the open-store.io API and keeps the local
// OpenStore catalog in sync with it.
package openstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DefaultAPIURL is the production app listing endpoint.
const DefaultAPIURL = "https://open-store.io/api/v4/apps"

// ErrNotFound is returned when the API has no app with the requested id.
var ErrNotFound = errors.New("app not found")

// App is one entry of the paginated app listing. Raw keeps the full
// API object for the catalog payload.
type App struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Tagline       string   `json:"tagline"`
	Description   string   `json:"description"`
	Author        string   `json:"author"`
	Publisher     string   `json:"publisher"`
	License       string   `json:"license"`
	Icon          string   `json:"icon"`
	Category      string   `json:"category"`
	Architectures []string `json:"architectures"`
	Types         []string `json:"types"`
	Channels      []string `json:"channels"`
	Framework     string   `json:"framework"`
	Version       string   `json:"version"`
	PublishedDate string   `json:"published_date"`
	UpdatedDate   string   `json:"updated_date"`

	Raw json.RawMessage `json:"-"`
}

// Download is one installable artifact of an app.
type Download struct {
	Channel      string `json:"channel"`
	Architecture string `json:"architecture"`
	Version      string `json:"version"`
	Revision     int64  `json:"revision"`
	DownloadURL  string `json:"download_url"`
}

// AppDetails is the per-app detail document.
type AppDetails struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Downloads []Download `json:"downloads"`
}

type listResponse struct {
	Data struct {
		Packages []json.RawMessage `json:"packages"`
		Next     string            `json:"next"`
	} `json:"data"`
}

type detailsResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    AppDetails `json:"data"`
}

// Client is an open-store.io API client.
type Client struct {
	apiURL string
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a client against the given listing endpoint.
func NewClient(apiURL string, logger *zap.Logger) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	http := resty.New().
		SetTimeout(2 * time.Minute).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("User-Agent", "store-provider/1.0")

	return &Client{apiURL: apiURL, http: http, logger: logger}
}

// FetchAppList walks the paginated listing and returns every native
// app. Webapps and apps published only for the xenial channel are
// filtered out.
func (c *Client) FetchAppList(ctx context.Context) ([]*App, error) {
	var apps []*App
	next := c.apiURL + "?type=app&channel=focal"
	pages := 0

	for next != "" {
		c.logger.Debug("fetching app listing page", zap.Int("page", pages+1), zap.String("url", next))

		resp, err := c.http.R().SetContext(ctx).Get(next)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch app listing: %w", err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("app listing returned status %d", resp.StatusCode())
		}

		var page listResponse
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return nil, fmt.Errorf("failed to parse app listing: %w", err)
		}

		pages++
		for _, raw := range page.Data.Packages {
			var app App
			if err := json.Unmarshal(raw, &app); err != nil {
				c.logger.Warn("skipping unparsable app entry", zap.Error(err))
				continue
			}
			if !isInstallableApp(&app) {
				continue
			}
			app.Raw = raw
			apps = append(apps, &app)
		}

		next = page.Data.Next
	}

	c.logger.Info("fetched app listing", zap.Int("apps", len(apps)), zap.Int("pages", pages))
	return apps, nil
}

// AppDetails fetches the detail document for one app.
func (c *Client) AppDetails(ctx context.Context, appID string) (*AppDetails, error) {
	resp, err := c.http.R().SetContext(ctx).Get(c.apiURL + "/" + appID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch app details: %w", err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrNotFound
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("app details returned status %d", resp.StatusCode())
	}

	var details detailsResponse
	if err := json.Unmarshal(resp.Body(), &details); err != nil {
		return nil, fmt.Errorf("failed to parse app details: %w", err)
	}
	if !details.Success {
		return nil, fmt.Errorf("api error: %s", details.Message)
	}
	return &details.Data, nil
}

// isInstallableApp keeps native apps only: the type list must contain
// "app" and no webapp variant, and the app must be published for some
// channel besides xenial.
func isInstallableApp(app *App) bool {
	hasApp := false
	for _, t := range app.Types {
		switch t {
		case "app":
			hasApp = true
		case "webapp", "webapp+":
			return false
		}
	}
	if !hasApp {
		return false
	}
	if len(app.Channels) == 1 && app.Channels[0] == "xenial" {
		return false
	}
	return true
}
