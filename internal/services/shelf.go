// Audiobookshelf API implementation of [ShelfService]
//
// Endpoint shapes follow https://api.audiobookshelf.org/. Positions are in
// seconds throughout; the server reports update times as unix milliseconds.
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/abx/internal/models"
	"github.com/desertthunder/abx/internal/shared"
	"github.com/go-resty/resty/v2"
)

// shelfUser is the relevant slice of a GET /api/me response. Depending on
// server version the user object arrives nested or at the root.
type shelfUser struct {
	ID            string               `json:"id"`
	Username      string               `json:"username"`
	MediaProgress []shelfMediaProgress `json:"mediaProgress"`

	User *struct {
		ID            string               `json:"id"`
		Username      string               `json:"username"`
		MediaProgress []shelfMediaProgress `json:"mediaProgress"`
	} `json:"user"`
}

type shelfMediaProgress struct {
	ID          string      `json:"id"`
	LibraryItem string      `json:"libraryItemId"`
	CurrentTime *float64    `json:"currentTime"`
	Duration    float64     `json:"duration"`
	IsFinished  bool        `json:"isFinished"`
	LastUpdate  int64       `json:"lastUpdate"` // unix ms
	Media       *shelfMedia `json:"media"`
}

type shelfMedia struct {
	ID       string        `json:"id"`
	Duration float64       `json:"duration"`
	Metadata shelfMetadata `json:"metadata"`
}

type shelfMetadata struct {
	Title string `json:"title"`
	ASIN  string `json:"asin"`
}

type shelfLibraries struct {
	Libraries []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"libraries"`
}

// shelfSearchResult covers the search response shapes seen across server
// versions: results keyed "book", "audiobooks", or "results", each entry
// possibly wrapping the item in "libraryItem".
type shelfSearchResult struct {
	Book       []shelfSearchEntry `json:"book"`
	Audiobooks []shelfSearchEntry `json:"audiobooks"`
	Results    []shelfSearchEntry `json:"results"`
}

type shelfSearchEntry struct {
	ID          string          `json:"id"`
	Media       *shelfMedia     `json:"media"`
	LibraryItem *shelfSearchHit `json:"libraryItem"`
}

type shelfSearchHit struct {
	ID    string      `json:"id"`
	Media *shelfMedia `json:"media"`
}

// ShelfClient implements [ShelfService] on top of a resty client.
type ShelfClient struct {
	cfg    shared.ShelfConfig
	client *resty.Client
	logger *log.Logger
	cache  ResolutionCache

	mu        sync.Mutex
	userID    string
	libraries []string
	asinMap   map[string]string

	dryRun bool
}

// NewShelfClient creates a client for the Audiobookshelf server in cfg.
// cache may be nil; resolutions are then only held in memory.
func NewShelfClient(cfg shared.ShelfConfig, cache ResolutionCache, logger *log.Logger) *ShelfClient {
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.Token).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &ShelfClient{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		cache:   cache,
		userID:  cfg.UserID,
		asinMap: map[string]string{},
	}
}

// SetDryRun suppresses writes when enabled.
func (s *ShelfClient) SetDryRun(enabled bool) {
	s.dryRun = enabled
}

// Initialize verifies connectivity and resolves the acting user id when the
// configuration does not pin one. Retries transient failures with
// exponential backoff since the server is often still booting when the sync
// daemon starts.
func (s *ShelfClient) Initialize(ctx context.Context) error {
	connect := func() (string, error) {
		if s.userID != "" {
			resp, err := s.client.R().SetContext(ctx).Get("/api/users/" + s.userID)
			if err != nil {
				return "", err
			}
			if resp.IsError() {
				return "", fmt.Errorf("%w: shelf API status %d", shared.ErrAPIRequest, resp.StatusCode())
			}
			return s.userID, nil
		}

		var me shelfUser
		resp, err := s.client.R().SetContext(ctx).SetResult(&me).Get("/api/me")
		if err != nil {
			return "", err
		}
		if resp.IsError() {
			return "", fmt.Errorf("%w: shelf API status %d", shared.ErrAPIRequest, resp.StatusCode())
		}

		id := me.ID
		if me.User != nil && me.User.ID != "" {
			id = me.User.ID
		}
		if id == "" {
			return "", backoff.Permanent(fmt.Errorf("%w: could not determine shelf user id", shared.ErrAuthFailed))
		}
		return id, nil
	}

	id, err := backoff.Retry(ctx, connect,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4))
	if err != nil {
		return fmt.Errorf("initializing shelf client: %w", err)
	}

	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()

	s.logger.Info("shelf client initialized", "user_id", id, "base_url", s.cfg.BaseURL)
	return nil
}

// InProgress returns every item with media progress for the acting user,
// keyed by ASIN, and refreshes the in-memory resolution map as a side
// effect.
func (s *ShelfClient) InProgress(ctx context.Context) (map[string]models.SyncItem, error) {
	var me shelfUser
	resp, err := s.client.R().SetContext(ctx).SetResult(&me).Get("/api/me")
	if err != nil {
		return nil, fmt.Errorf("fetching shelf progress: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: shelf API status %d", shared.ErrAPIRequest, resp.StatusCode())
	}

	progress := me.MediaProgress
	if me.User != nil {
		progress = me.User.MediaProgress
	}

	results := map[string]models.SyncItem{}
	for _, prog := range progress {
		if prog.Media == nil || prog.Media.Metadata.ASIN == "" || prog.CurrentTime == nil {
			continue
		}
		asin := prog.Media.Metadata.ASIN

		itemID := prog.LibraryItem
		if itemID == "" {
			itemID = prog.Media.ID
		}
		if itemID != "" {
			s.remember(asin, itemID)
		}

		duration := prog.Duration
		if duration == 0 {
			duration = prog.Media.Duration
		}

		var updatedAt time.Time
		if prog.LastUpdate > 0 {
			updatedAt = time.UnixMilli(prog.LastUpdate)
		}

		pos := *prog.CurrentTime
		results[asin] = models.SyncItem{
			ASIN:           asin,
			ShelfItemID:    itemID,
			ShelfPositionS: &pos,
			DurationS:      duration,
			ShelfUpdatedAt: updatedAt,
		}
	}
	return results, nil
}

// UpdateProgress pushes a new playback position for a library item. A no-op
// in dry-run mode.
func (s *ShelfClient) UpdateProgress(ctx context.Context, itemID string, positionS float64) error {
	if s.dryRun {
		s.logger.Info("dry run: would update shelf position", "item_id", itemID, "position_s", positionS)
		return nil
	}

	payload := map[string]interface{}{
		"currentTime": positionS,
		"isFinished":  false,
	}
	resp, err := s.client.R().SetContext(ctx).SetBody(payload).Patch("/api/me/progress/" + itemID)
	if err != nil {
		return fmt.Errorf("updating shelf progress for %s: %w", itemID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: shelf API status %d updating %s", shared.ErrAPIRequest, resp.StatusCode(), itemID)
	}

	s.logger.Info("updated shelf position", "item_id", itemID, "position_s", positionS)
	return nil
}

// ItemProgress fetches the progress record for one library item. A 404 means
// the server has no progress for it and returns (nil, nil).
func (s *ShelfClient) ItemProgress(ctx context.Context, itemID string) (*models.ProgressSnapshot, error) {
	var prog shelfMediaProgress
	resp, err := s.client.R().SetContext(ctx).SetResult(&prog).Get("/api/me/progress/" + itemID)
	if err != nil {
		return nil, fmt.Errorf("fetching shelf progress for %s: %w", itemID, err)
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: shelf API status %d for %s", shared.ErrAPIRequest, resp.StatusCode(), itemID)
	}

	snap := &models.ProgressSnapshot{DurationS: prog.Duration}
	if prog.CurrentTime != nil {
		snap.PositionS = *prog.CurrentTime
	}
	if prog.LastUpdate > 0 {
		snap.UpdatedAt = time.UnixMilli(prog.LastUpdate)
	}
	return snap, nil
}

// Libraries returns the library ids in scope. A configured library id scopes
// lookup to that library alone; if it is not present on the server the scope
// is empty rather than silently widened.
func (s *ShelfClient) Libraries(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	if len(s.libraries) > 0 {
		out := append([]string(nil), s.libraries...)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	var libs shelfLibraries
	resp, err := s.client.R().SetContext(ctx).SetResult(&libs).Get("/api/libraries")
	if err != nil {
		return nil, fmt.Errorf("fetching shelf libraries: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: shelf API status %d", shared.ErrAPIRequest, resp.StatusCode())
	}

	all := make([]string, 0, len(libs.Libraries))
	for _, lib := range libs.Libraries {
		all = append(all, lib.ID)
	}

	var scoped []string
	if s.cfg.LibraryID != "" {
		for _, id := range all {
			if id == s.cfg.LibraryID {
				scoped = []string{id}
				break
			}
		}
		if scoped == nil {
			s.logger.Warn("configured shelf library not found on server",
				"library_id", s.cfg.LibraryID, "available", all)
		}
	} else {
		scoped = all
	}

	s.mu.Lock()
	s.libraries = scoped
	s.mu.Unlock()
	return append([]string(nil), scoped...), nil
}

// LookupItem resolves an ASIN to a library item id via library search,
// consulting the in-memory map and the persistent cache first. Returns ""
// with a nil error when nothing matches.
func (s *ShelfClient) LookupItem(ctx context.Context, asin string) (string, error) {
	s.mu.Lock()
	if id, ok := s.asinMap[asin]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	if s.cache != nil {
		if id, ok := s.cache.Get(asin); ok {
			s.mu.Lock()
			s.asinMap[asin] = id
			s.mu.Unlock()
			return id, nil
		}
	}

	libraries, err := s.Libraries(ctx)
	if err != nil {
		return "", err
	}

	for _, libID := range libraries {
		var result shelfSearchResult
		resp, err := s.client.R().SetContext(ctx).
			SetQueryParam("q", asin).
			SetResult(&result).
			Get("/api/libraries/" + libID + "/search")
		if err != nil || resp.IsError() {
			s.logger.Debug("shelf library search failed", "library_id", libID, "asin", asin, "error", err)
			continue
		}

		entries := make([]shelfSearchEntry, 0, len(result.Book)+len(result.Audiobooks)+len(result.Results))
		entries = append(entries, result.Book...)
		entries = append(entries, result.Audiobooks...)
		entries = append(entries, result.Results...)

		for _, entry := range entries {
			id, media := entry.ID, entry.Media
			if entry.LibraryItem != nil {
				id, media = entry.LibraryItem.ID, entry.LibraryItem.Media
			}
			if id == "" || media == nil || media.Metadata.ASIN != asin {
				continue
			}
			s.remember(asin, id)
			s.logger.Debug("resolved asin to shelf item", "asin", asin, "item_id", id)
			return id, nil
		}
	}
	return "", nil
}

// remember stores a resolution in the in-memory map and the persistent
// cache.
func (s *ShelfClient) remember(asin, itemID string) {
	s.mu.Lock()
	s.asinMap[asin] = itemID
	s.mu.Unlock()
	if s.cache != nil {
		s.cache.Put(asin, itemID)
	}
}
