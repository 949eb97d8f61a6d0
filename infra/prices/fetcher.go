// Package prices loads the electricity price curve from an HTTP API or a
// local file.
package prices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kilianp07/wattbudget/core/price"
)

// AuthConfig enables OAuth2 client credentials on API requests.
type AuthConfig struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`
}

func (a AuthConfig) enabled() bool { return a.ClientID != "" && a.TokenURL != "" }

// Config selects the price source. URL wins over File when both are set.
type Config struct {
	URL     string        `json:"url"`
	Area    string        `json:"area"`
	File    string        `json:"file"`
	Auth    AuthConfig    `json:"auth"`
	Timeout time.Duration `json:"timeout"`
	// Refresh is how often prices are polled.
	Refresh time.Duration `json:"refresh"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Refresh <= 0 {
		c.Refresh = time.Hour
	}
}

// Validate checks a source is configured.
func (c Config) Validate() error {
	if c.URL == "" && c.File == "" {
		return errors.New("prices: url or file is required")
	}
	return nil
}

// Fetcher retrieves price points.
type Fetcher struct {
	cfg    Config
	client *http.Client
}

// NewFetcher builds a fetcher. With auth configured the HTTP client obtains
// and refreshes bearer tokens itself.
func NewFetcher(cfg Config) *Fetcher {
	cfg.SetDefaults()
	base := &http.Client{Timeout: cfg.Timeout}
	client := base
	if cfg.Auth.enabled() {
		cc := clientcredentials.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			TokenURL:     cfg.Auth.TokenURL,
			Scopes:       cfg.Auth.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = cc.Client(ctx)
		client.Timeout = cfg.Timeout
	}
	return &Fetcher{cfg: cfg, client: client}
}

// Fetch returns the known prices sorted by start time.
func (f *Fetcher) Fetch(ctx context.Context) ([]price.Point, error) {
	var (
		points []price.Point
		err    error
	)
	if f.cfg.URL != "" {
		points, err = f.fetchURL(ctx)
	} else {
		points, err = ReadFile(f.cfg.File)
	}
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, price.ErrNoPrices
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Start.Before(points[j].Start) })
	return points, nil
}

func (f *Fetcher) fetchURL(ctx context.Context) ([]price.Point, error) {
	u, err := url.Parse(f.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("price url: %w", err)
	}
	if f.cfg.Area != "" {
		q := u.Query()
		q.Set("area", f.cfg.Area)
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch prices: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	points, err := price.DecodeCurve(resp.Body, "json")
	if err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}
	return points, nil
}

// ReadFile decodes a yaml or json price file, chosen by extension.
func ReadFile(path string) ([]price.Point, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	points, err := price.DecodeCurve(fh, format)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return points, nil
}
