package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/abx/internal/shared"
)

// memCache is an in-memory ResolutionCache for tests.
type memCache struct {
	entries map[string]string
	puts    int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]string{}}
}

func (m *memCache) Get(asin string) (string, bool) {
	id, ok := m.entries[asin]
	return id, ok
}

func (m *memCache) Put(asin, itemID string) {
	m.entries[asin] = itemID
	m.puts++
}

func testShelfClient(t *testing.T, handler http.Handler, cache ResolutionCache) *ShelfClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := shared.ShelfConfig{BaseURL: server.URL, Token: "test-token"}
	return NewShelfClient(cfg, cache, log.New(io.Discard))
}

func TestShelfInitializeResolvesUser(t *testing.T) {
	client := testShelfClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/me" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization header = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"user": map[string]interface{}{"id": "usr_1", "username": "reader"},
		})
	}), nil)

	if err := client.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if client.userID != "usr_1" {
		t.Errorf("user id = %q, want usr_1", client.userID)
	}
}

func TestShelfInitializeValidatesPinnedUser(t *testing.T) {
	var path string
	client := testShelfClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "usr_pinned"})
	}), nil)
	client.userID = "usr_pinned"

	if err := client.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if path != "/api/users/usr_pinned" {
		t.Errorf("validated via %s", path)
	}
}

func TestShelfInProgress(t *testing.T) {
	client := testShelfClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"user": map[string]interface{}{
				"id": "usr_1",
				"mediaProgress": []map[string]interface{}{
					{
						"libraryItemId": "li_1",
						"currentTime":   450.5,
						"duration":      3600.0,
						"lastUpdate":    1767225600000,
						"media": map[string]interface{}{
							"id":       "med_1",
							"metadata": map[string]interface{}{"asin": "B001", "title": "A Book"},
						},
					},
					{
						// No ASIN: skipped.
						"libraryItemId": "li_2",
						"currentTime":   10.0,
						"media":         map[string]interface{}{"metadata": map[string]interface{}{}},
					},
					{
						// No position: skipped.
						"libraryItemId": "li_3",
						"media": map[string]interface{}{
							"metadata": map[string]interface{}{"asin": "B003"},
						},
					},
				},
			},
		})
	}), nil)

	items, err := client.InProgress(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %v, want exactly B001", items)
	}

	item := items["B001"]
	if item.ShelfItemID != "li_1" {
		t.Errorf("item id = %q", item.ShelfItemID)
	}
	if item.ShelfPositionS == nil || *item.ShelfPositionS != 450.5 {
		t.Errorf("position = %v", item.ShelfPositionS)
	}
	if item.DurationS != 3600 {
		t.Errorf("duration = %v", item.DurationS)
	}
	if want := time.UnixMilli(1767225600000); !item.ShelfUpdatedAt.Equal(want) {
		t.Errorf("updated at = %v, want %v", item.ShelfUpdatedAt, want)
	}

	// InProgress refreshes the resolution map as a side effect.
	if id, _ := client.LookupItem(context.Background(), "B001"); id != "li_1" {
		t.Errorf("resolution map not refreshed: %q", id)
	}
}

func TestShelfUpdateProgress(t *testing.T) {
	var received map[string]interface{}
	client := testShelfClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		if r.URL.Path != "/api/me/progress/li_1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}), nil)

	if err := client.UpdateProgress(context.Background(), "li_1", 450.5); err != nil {
		t.Fatal(err)
	}
	if received["currentTime"] != 450.5 {
		t.Errorf("currentTime = %v", received["currentTime"])
	}
	if received["isFinished"] != false {
		t.Errorf("isFinished = %v", received["isFinished"])
	}
}

func TestShelfUpdateProgressDryRun(t *testing.T) {
	client := testShelfClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("dry run must not hit the API")
	}), nil)
	client.SetDryRun(true)

	if err := client.UpdateProgress(context.Background(), "li_1", 450.5); err != nil {
		t.Fatal(err)
	}
}

func TestShelfItemProgressNotFound(t *testing.T) {
	client := testShelfClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}), nil)

	snap, err := client.ItemProgress(context.Background(), "li_missing")
	if err != nil {
		t.Fatalf("404 must not be an error: %v", err)
	}
	if snap != nil {
		t.Errorf("snapshot = %+v, want nil", snap)
	}
}

func TestShelfItemProgress(t *testing.T) {
	client := testShelfClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"currentTime": 120.0,
			"duration":    900.0,
			"lastUpdate":  1767225600000,
		})
	}), nil)

	snap, err := client.ItemProgress(context.Background(), "li_1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.PositionS != 120 || snap.DurationS != 900 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestShelfLibrariesScoped(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"libraries": []map[string]interface{}{
				{"id": "lib_1", "name": "Audiobooks"},
				{"id": "lib_2", "name": "Podcasts"},
			},
		})
	})

	t.Run("unscoped returns all", func(t *testing.T) {
		client := testShelfClient(t, handler, nil)
		libs, err := client.Libraries(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(libs) != 2 {
			t.Errorf("libraries = %v", libs)
		}
	})

	t.Run("configured id narrows scope", func(t *testing.T) {
		client := testShelfClient(t, handler, nil)
		client.cfg.LibraryID = "lib_2"
		libs, err := client.Libraries(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(libs) != 1 || libs[0] != "lib_2" {
			t.Errorf("libraries = %v", libs)
		}
	})

	t.Run("unknown id yields empty scope", func(t *testing.T) {
		client := testShelfClient(t, handler, nil)
		client.cfg.LibraryID = "lib_missing"
		libs, err := client.Libraries(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(libs) != 0 {
			t.Errorf("libraries = %v, want none", libs)
		}
	})
}

func TestShelfLookupItemViaSearch(t *testing.T) {
	searches := 0
	cache := newMemCache()
	client := testShelfClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/libraries":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"libraries": []map[string]interface{}{{"id": "lib_1"}},
			})
		case "/api/libraries/lib_1/search":
			searches++
			if got := r.URL.Query().Get("q"); got != "B001" {
				t.Errorf("query = %q", got)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"book": []map[string]interface{}{
					{
						"libraryItem": map[string]interface{}{
							"id": "li_1",
							"media": map[string]interface{}{
								"metadata": map[string]interface{}{"asin": "B001"},
							},
						},
					},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}), cache)

	id, err := client.LookupItem(context.Background(), "B001")
	if err != nil {
		t.Fatal(err)
	}
	if id != "li_1" {
		t.Fatalf("item id = %q", id)
	}
	if cache.entries["B001"] != "li_1" {
		t.Error("resolution not written through to the cache")
	}

	// Second lookup is served from memory.
	if _, err := client.LookupItem(context.Background(), "B001"); err != nil {
		t.Fatal(err)
	}
	if searches != 1 {
		t.Errorf("search count = %d, want 1", searches)
	}
}

func TestShelfLookupItemFromCache(t *testing.T) {
	cache := newMemCache()
	cache.entries["B001"] = "li_cached"

	client := testShelfClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("cached resolution must not hit the API")
	}), cache)

	id, err := client.LookupItem(context.Background(), "B001")
	if err != nil {
		t.Fatal(err)
	}
	if id != "li_cached" {
		t.Errorf("item id = %q", id)
	}
}

func TestShelfLookupItemNoMatch(t *testing.T) {
	client := testShelfClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/libraries":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"libraries": []map[string]interface{}{{"id": "lib_1"}},
			})
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{"book": []interface{}{}})
		}
	}), nil)

	id, err := client.LookupItem(context.Background(), "B404")
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Errorf("item id = %q, want empty", id)
	}
}
