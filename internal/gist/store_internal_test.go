package gist

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rssperso/internal/domain"
)

type stubSnapshot struct {
	data   map[string][]byte
	putErr error
	getErr error
}

func newStubSnapshot() *stubSnapshot {
	return &stubSnapshot{data: map[string][]byte{}}
}

func (s *stubSnapshot) Put(_ context.Context, key string, value []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.data[key] = value

	return nil
}

func (s *stubSnapshot) Get(_ context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	value, ok := s.data[key]
	if !ok {
		return nil, errors.New("no snapshot")
	}

	return value, nil
}

// methodMux emulates the "METHOD /path" ServeMux patterns of Go 1.22+ so the
// fixtures below run unchanged on a Go 1.21 toolchain.
type methodMux struct {
	routes map[string]map[string]http.HandlerFunc // path -> method -> handler
}

func newMethodMux() *methodMux {
	return &methodMux{routes: map[string]map[string]http.HandlerFunc{}}
}

func (m *methodMux) HandleFunc(pattern string, h http.HandlerFunc) {
	method, path := "", pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		method, path = pattern[:i], pattern[i+1:]
	}
	if m.routes[path] == nil {
		m.routes[path] = map[string]http.HandlerFunc{}
	}
	m.routes[path][method] = h
}

func (m *methodMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	byMethod, ok := m.routes[r.URL.Path]
	if !ok {
		byMethod, ok = m.routes["/"]
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	if h, ok := byMethod[r.Method]; ok {
		h(w, r)
		return
	}
	if h, ok := byMethod[""]; ok {
		h(w, r)
		return
	}
	http.NotFound(w, r)
}

const testGistID = "abc123"

var fixtureUpdatedAt = time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)

func fixtureResponse(historyLen int, stateRawURL string) gistResponse {
	state := domain.FeedState{
		LastUpdate: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		Updates: map[string]time.Time{
			"1": time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	readList := []domain.ReadListItem{
		{URL: "https://b.example/1", Title: "b", FeedID: 2},
		{URL: "https://a.example/1", Title: "a", FeedID: 1},
	}

	history := make([]json.RawMessage, historyLen)
	for i := range history {
		history[i] = json.RawMessage("{}")
	}

	return gistResponse{
		Files: map[string]gistFile{
			FeedFileKey: {
				Filename: FeedFileKey,
				Content: marshalIndent(feedsFile{Feeds: []domain.FeedConfig{
					{ID: 1, Name: "One", URL: "https://one.example/rss"},
				}}),
			},
			StateFileKey: {
				Filename: StateFileKey,
				RawURL:   stateRawURL,
				Content:  marshalIndent(state),
			},
			ReadingListFileKey: {
				Filename: ReadingListFileKey,
				Content:  marshalIndent(readList),
			},
		},
		History:   history,
		UpdatedAt: fixtureUpdatedAt,
	}
}

func serveJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
}

func newTestStore(t *testing.T, handler http.Handler, cache Snapshot) (*Store, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewStore(srv.URL+"/", testGistID, "someone", "token", cache, slog.Default()), srv
}

func TestLoadParsesDocument(t *testing.T) {
	mux := newMethodMux()
	mux.HandleFunc("GET /gists/"+testGistID, func(w http.ResponseWriter, _ *http.Request) {
		serveJSON(t, w, fixtureResponse(3, "https://gist.example/raw/state1"))
	})

	cache := newStubSnapshot()
	store, _ := newTestStore(t, mux, cache)

	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(doc.Feeds) != 1 || doc.Feeds[0].Name != "One" {
		t.Fatalf("unexpected feeds: %+v", doc.Feeds)
	}
	if doc.RevisionCount != 3 {
		t.Fatalf("expected revision 3, got %d", doc.RevisionCount)
	}
	if doc.State.RawURL != "https://gist.example/raw/state1" {
		t.Fatalf("unexpected state raw_url: %q", doc.State.RawURL)
	}
	if _, ok := doc.State.Updates["1"]; !ok {
		t.Fatalf("expected watermark for feed 1, got %v", doc.State.Updates)
	}

	// The reading list comes back grouped by feed.
	if doc.ReadList[0].FeedID != 1 || doc.ReadList[1].FeedID != 2 {
		t.Fatalf("expected reading list sorted by feed, got %+v", doc.ReadList)
	}

	if _, ok := cache.data[cacheKey]; !ok {
		t.Fatalf("expected document snapshot in local cache")
	}
}

func TestLoadFallsBackToCache(t *testing.T) {
	mux := newMethodMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	cache := newStubSnapshot()
	cached, err := json.Marshal(domain.Document{
		Feeds:         []domain.FeedConfig{{ID: 1, Name: "Cached"}},
		RevisionCount: 7,
	})
	if err != nil {
		t.Fatalf("marshal cached document: %v", err)
	}
	cache.data[cacheKey] = cached

	store, _ := newTestStore(t, mux, cache)

	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("expected cache fallback, got %v", err)
	}
	if len(doc.Feeds) != 1 || doc.Feeds[0].Name != "Cached" {
		t.Fatalf("unexpected cached feeds: %+v", doc.Feeds)
	}
}

func TestLoadFailsWithoutCache(t *testing.T) {
	mux := newMethodMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	store, _ := newTestStore(t, mux, newStubSnapshot())

	if _, err := store.Load(context.Background()); err == nil {
		t.Fatalf("expected error when both remote and cache fail")
	}
}

func TestSaveWarnsOnRevisionJump(t *testing.T) {
	mux := newMethodMux()
	mux.HandleFunc("GET /gists/"+testGistID, func(w http.ResponseWriter, _ *http.Request) {
		serveJSON(t, w, fixtureResponse(3, "https://gist.example/raw/state1"))
	})
	mux.HandleFunc("PATCH /gists/"+testGistID, func(w http.ResponseWriter, r *http.Request) {
		var patch gistPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			t.Errorf("decode patch: %v", err)
		}
		if _, ok := patch.Files[StateFileKey]; !ok {
			t.Errorf("expected state file in patch, got %v", patch.Files)
		}

		// Two revisions appeared instead of one: another writer raced us.
		serveJSON(t, w, fixtureResponse(5, "https://gist.example/raw/state2"))
	})

	store, _ := newTestStore(t, mux, newStubSnapshot())

	var warnings []string
	store.WarnFunc = func(msg string) { warnings = append(warnings, msg) }

	if _, err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	err := store.SaveFeedsState(context.Background(), 1, "One",
		time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("save state: %v", err)
	}

	if len(warnings) != 1 {
		t.Fatalf("expected one lost-update warning, got %v", warnings)
	}

	doc := store.Document()
	if doc.RevisionCount != 5 {
		t.Fatalf("expected adopted revision 5, got %d", doc.RevisionCount)
	}
	if doc.State.RawURL != "https://gist.example/raw/state2" {
		t.Fatalf("expected adopted state raw_url, got %q", doc.State.RawURL)
	}
}

func TestSaveSilentOnSequentialRevision(t *testing.T) {
	mux := newMethodMux()
	mux.HandleFunc("GET /gists/"+testGistID, func(w http.ResponseWriter, _ *http.Request) {
		serveJSON(t, w, fixtureResponse(3, "https://gist.example/raw/state1"))
	})
	mux.HandleFunc("PATCH /gists/"+testGistID, func(w http.ResponseWriter, _ *http.Request) {
		serveJSON(t, w, fixtureResponse(4, "https://gist.example/raw/state2"))
	})

	store, _ := newTestStore(t, mux, newStubSnapshot())

	var warnings []string
	store.WarnFunc = func(msg string) { warnings = append(warnings, msg) }

	if _, err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := store.SaveFeedsState(context.Background(), 1, "One", time.Now()); err != nil {
		t.Fatalf("save state: %v", err)
	}

	if len(warnings) != 0 {
		t.Fatalf("expected no warning for a clean save, got %v", warnings)
	}
}

func TestIsUpdatedSuppressedWhilePushing(t *testing.T) {
	mux := newMethodMux()
	mux.HandleFunc("GET /gists/"+testGistID, func(w http.ResponseWriter, _ *http.Request) {
		serveJSON(t, w, fixtureResponse(3, "https://gist.example/raw/state1"))
	})
	mux.HandleFunc("GET /users/someone/gists", func(_ http.ResponseWriter, _ *http.Request) {
		t.Errorf("update check must not hit the API while a write is in flight")
	})

	store, _ := newTestStore(t, mux, newStubSnapshot())

	if _, err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	store.mu.Lock()
	store.pushing = true
	store.mu.Unlock()

	if store.IsUpdated(context.Background()) {
		t.Fatalf("expected IsUpdated suppressed while pushing")
	}
}

func TestIsUpdatedDetectsRemoteStateChange(t *testing.T) {
	remoteStateRawURL := "https://gist.example/raw/state1"

	mux := newMethodMux()
	mux.HandleFunc("GET /gists/"+testGistID, func(w http.ResponseWriter, _ *http.Request) {
		serveJSON(t, w, fixtureResponse(3, "https://gist.example/raw/state1"))
	})
	mux.HandleFunc("GET /users/someone/gists", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("since") == "" {
			t.Errorf("expected since parameter on update check")
		}

		serveJSON(t, w, []userGistSummary{{
			ID: testGistID,
			Files: map[string]gistFile{
				StateFileKey: {RawURL: remoteStateRawURL},
			},
		}})
	})

	store, _ := newTestStore(t, mux, newStubSnapshot())

	if _, err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	if store.IsUpdated(context.Background()) {
		t.Fatalf("unchanged raw_url must not flag an update")
	}

	remoteStateRawURL = "https://gist.example/raw/state2"

	if !store.IsUpdated(context.Background()) {
		t.Fatalf("changed raw_url must flag an update")
	}
}

func TestUpdateFeedStateStagesWithoutWriting(t *testing.T) {
	patches := 0

	mux := newMethodMux()
	mux.HandleFunc("GET /gists/"+testGistID, func(w http.ResponseWriter, _ *http.Request) {
		serveJSON(t, w, fixtureResponse(3, "https://gist.example/raw/state1"))
	})
	mux.HandleFunc("PATCH /gists/"+testGistID, func(w http.ResponseWriter, _ *http.Request) {
		patches++
		serveJSON(t, w, fixtureResponse(4, "https://gist.example/raw/state2"))
	})

	store, _ := newTestStore(t, mux, newStubSnapshot())

	if _, err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	date := time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC)
	store.UpdateFeedState(2, date)

	if patches != 0 {
		t.Fatalf("staging a watermark must not write, got %d patches", patches)
	}
	if got := store.Document().State.Updates["2"]; !got.Equal(date) {
		t.Fatalf("expected staged watermark %v, got %v", date, got)
	}
}

func TestNextFeedID(t *testing.T) {
	mux := newMethodMux()
	mux.HandleFunc("GET /gists/"+testGistID, func(w http.ResponseWriter, _ *http.Request) {
		serveJSON(t, w, fixtureResponse(3, "https://gist.example/raw/state1"))
	})

	store, _ := newTestStore(t, mux, newStubSnapshot())

	if _, err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := store.NextFeedID(); got != 2 {
		t.Fatalf("expected next feed id 2, got %d", got)
	}
}

func TestParseStateToleratesGarbage(t *testing.T) {
	state := parseState(gistFile{Content: "not json"})

	if !state.LastUpdate.Equal(domain.ZeroStateDate) {
		t.Fatalf("expected zero-state date, got %v", state.LastUpdate)
	}
	if state.Updates == nil {
		t.Fatalf("expected empty updates map")
	}
}
