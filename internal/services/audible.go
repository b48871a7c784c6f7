// Audible API implementation of [AudibleService]
//
// Talks to the Audible companion API (the one the mobile apps use) with a
// bearer token lifted from a device registration file. Positions are in
// milliseconds throughout.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/abx/internal/shared"
	"golang.org/x/oauth2"
)

// localeBase maps an Audible marketplace locale to its API host.
var localeBase = map[string]string{
	"us": "https://api.audible.com",
	"ca": "https://api.audible.ca",
	"uk": "https://api.audible.co.uk",
	"gb": "https://api.audible.co.uk",
	"au": "https://api.audible.com.au",
	"de": "https://api.audible.de",
	"fr": "https://api.audible.fr",
	"it": "https://api.audible.it",
	"es": "https://api.audible.es",
	"in": "https://api.audible.in",
	"jp": "https://api.audible.co.jp",
}

// audibleAuthFile is the on-disk device registration produced by an external
// authenticator. Only the fields this client needs are mapped.
type audibleAuthFile struct {
	AccessToken string `json:"access_token"`
	Locale      string `json:"locale_code"`
}

// audibleLibraryItem is one entry of a 1.0/library response.
type audibleLibraryItem struct {
	ASIN            string   `json:"asin"`
	Title           string   `json:"title"`
	PurchaseDate    string   `json:"purchase_date"`
	PercentComplete *float64 `json:"percent_complete"`
}

type audibleLibraryResponse struct {
	Items []audibleLibraryItem `json:"items"`
}

// audibleLastPositions covers both shapes the lastpositions annotation
// endpoint is known to return.
type audibleLastPositions struct {
	LastPositions []struct {
		ASIN       string `json:"asin"`
		PositionMS int64  `json:"position_ms"`
	} `json:"last_positions"`

	Annotations []struct {
		ASIN              string `json:"asin"`
		LastPositionHeard struct {
			PositionMS *int64 `json:"position_ms"`
		} `json:"last_position_heard"`
	} `json:"asin_last_position_heard_annots"`
}

// AudibleClient implements [AudibleService] against the companion API.
type AudibleClient struct {
	cfg        shared.AudibleConfig
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger

	ready  bool
	dryRun bool
}

// NewAudibleClient creates an uninitialized client. Call Initialize before
// use; until then reads return empty results and writes are no-ops.
func NewAudibleClient(cfg shared.AudibleConfig, logger *log.Logger) *AudibleClient {
	return &AudibleClient{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
}

// Initialize loads the device registration file, builds an authenticated
// client, and verifies the token with a minimal library request. Transient
// verification failures are retried with exponential backoff. A permanent
// failure is returned but the caller may keep running with a not-ready
// client.
func (a *AudibleClient) Initialize(ctx context.Context) error {
	data, err := os.ReadFile(a.cfg.AuthPath)
	if err != nil {
		return fmt.Errorf("%w: reading audible auth file %s: %v", shared.ErrMissingConfig, a.cfg.AuthPath, err)
	}

	var auth audibleAuthFile
	if err := json.Unmarshal(data, &auth); err != nil {
		return fmt.Errorf("%w: parsing audible auth file: %v", shared.ErrInvalidConfig, err)
	}
	if auth.AccessToken == "" {
		return fmt.Errorf("%w: audible auth file has no access_token", shared.ErrAuthFailed)
	}

	locale := a.cfg.Locale
	if auth.Locale != "" {
		locale = auth.Locale
	}
	// A pre-set base URL wins over locale resolution.
	if a.baseURL == "" {
		base, ok := localeBase[strings.ToLower(locale)]
		if !ok {
			return fmt.Errorf("%w: unknown audible locale %q", shared.ErrInvalidConfig, locale)
		}
		a.baseURL = base
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: auth.AccessToken})
	a.httpClient = oauth2.NewClient(ctx, src)

	verify := func() (struct{}, error) {
		var resp audibleLibraryResponse
		err := a.doRequest(ctx, http.MethodGet, "/1.0/library", url.Values{"num_results": {"1"}}, nil, &resp)
		return struct{}{}, err
	}
	if _, err := backoff.Retry(ctx, verify,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4)); err != nil {
		a.ready = false
		return fmt.Errorf("verifying audible credentials: %w", err)
	}

	a.ready = true
	a.logger.Info("audible client initialized", "locale", locale)
	return nil
}

// Ready reports whether Initialize succeeded.
func (a *AudibleClient) Ready() bool {
	return a.ready
}

// SetDryRun suppresses writes when enabled.
func (a *AudibleClient) SetDryRun(enabled bool) {
	a.dryRun = enabled
}

// doRequest performs an authenticated request against the companion API.
func (a *AudibleClient) doRequest(ctx context.Context, method, endpoint string, params url.Values, body, result interface{}) error {
	apiURL := a.baseURL + endpoint
	if len(params) > 0 {
		apiURL += "?" + params.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: audible API status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// LastPositions fetches last-heard positions for the given ASINs in batches.
// A batch that errors is logged and skipped so one bad request cannot starve
// the rest of the pass.
func (a *AudibleClient) LastPositions(ctx context.Context, asins []string) (map[string]int64, error) {
	results := map[string]int64{}
	if !a.ready || len(asins) == 0 {
		return results, nil
	}

	batchSize := a.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	for start := 0; start < len(asins); start += batchSize {
		end := min(start+batchSize, len(asins))
		batch := asins[start:end]

		var resp audibleLastPositions
		params := url.Values{"asins": {strings.Join(batch, ",")}}
		if err := a.doRequest(ctx, http.MethodGet, "/1.0/annotations/lastpositions", params, nil, &resp); err != nil {
			a.logger.Error("failed to fetch audible positions for batch", "size", len(batch), "error", err)
			continue
		}

		for _, pos := range resp.LastPositions {
			results[pos.ASIN] = pos.PositionMS
		}
		for _, annot := range resp.Annotations {
			if annot.LastPositionHeard.PositionMS != nil {
				results[annot.ASIN] = *annot.LastPositionHeard.PositionMS
			}
		}
	}
	return results, nil
}

// UpdatePosition pushes a new last-heard position for one ASIN. A no-op when
// not ready or in dry-run mode.
func (a *AudibleClient) UpdatePosition(ctx context.Context, asin string, positionMS int64) error {
	if a.dryRun {
		a.logger.Info("dry run: would update audible position", "asin", asin, "position_ms", positionMS)
		return nil
	}
	if !a.ready {
		return nil
	}

	payload := map[string]interface{}{
		"asin":        asin,
		"acr":         asin,
		"position_ms": positionMS,
		"timestamp":   time.Now().UnixMilli(),
	}
	if err := a.doRequest(ctx, http.MethodPut, "/1.0/lastpositions/"+asin, nil, payload, nil); err != nil {
		return fmt.Errorf("updating audible position for %s: %w", asin, err)
	}

	a.logger.Info("updated audible position", "asin", asin, "position_ms", positionMS)
	return nil
}

// RecentlyPlayed returns the most recently accessed library ASINs, most
// recent first. Catches older books the user picked back up.
func (a *AudibleClient) RecentlyPlayed(ctx context.Context, limit int) ([]string, error) {
	if !a.ready {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{
		"response_groups": {"product_attrs"},
		"sort":            {"-DateAccessed"},
		"num_results":     {fmt.Sprint(limit)},
	}

	var resp audibleLibraryResponse
	if err := a.doRequest(ctx, http.MethodGet, "/1.0/library", params, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching recently played: %w", err)
	}

	asins := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ASIN != "" {
			asins = append(asins, item.ASIN)
		}
	}
	return asins, nil
}

// NewlyPurchased returns ASINs purchased after since, newest first. Items
// with an unparseable purchase date are included rather than silently lost.
func (a *AudibleClient) NewlyPurchased(ctx context.Context, since time.Time) ([]string, error) {
	if !a.ready {
		return nil, nil
	}

	params := url.Values{
		"num_results":     {"50"},
		"sort":            {"-purchase_date"},
		"response_groups": {"product_attrs"},
	}

	var resp audibleLibraryResponse
	if err := a.doRequest(ctx, http.MethodGet, "/1.0/library", params, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching newly purchased: %w", err)
	}

	var asins []string
	for _, item := range resp.Items {
		if item.ASIN == "" {
			continue
		}
		if purchased, err := time.Parse(time.RFC3339, item.PurchaseDate); err == nil && !purchased.After(since) {
			continue
		}
		asins = append(asins, item.ASIN)
	}
	return asins, nil
}

// DeepScanInProgress pages through the library collecting every partially
// complete item, bounded by the configured candidate cap and a hard page
// limit for very large libraries.
func (a *AudibleClient) DeepScanInProgress(ctx context.Context) ([]string, error) {
	if !a.ready {
		return nil, nil
	}

	maxCandidates := a.cfg.DeepScanMaxInProgress
	if maxCandidates <= 0 {
		maxCandidates = 200
	}

	var candidates []string
	for page := 1; page <= 20 && len(candidates) < maxCandidates; page++ {
		params := url.Values{
			"num_results":     {"50"},
			"page":            {fmt.Sprint(page)},
			"response_groups": {"product_attrs,media,percent_complete"},
		}

		var resp audibleLibraryResponse
		if err := a.doRequest(ctx, http.MethodGet, "/1.0/library", params, nil, &resp); err != nil {
			return candidates, fmt.Errorf("deep scan page %d: %w", page, err)
		}
		if len(resp.Items) == 0 {
			break
		}

		for _, item := range resp.Items {
			if item.PercentComplete == nil {
				continue
			}
			if pc := *item.PercentComplete; pc > 0 && pc < 100 {
				candidates = append(candidates, item.ASIN)
			}
		}
	}
	return candidates, nil
}
