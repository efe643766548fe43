package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skimreader/skim/pkg/feed"
	"github.com/skimreader/skim/pkg/processor"
	"github.com/skimreader/skim/pkg/realtime"
	"github.com/skimreader/skim/pkg/store"
)

type apiFixture struct {
	store  *store.Store
	hub    *realtime.Hub
	server *httptest.Server
	token  string
}

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "skim.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing store: %v", err)
		}
	})

	hub := realtime.NewHub(8)
	proc := processor.New(processor.Config{FetchTimeout: 5 * time.Second, DiscoveryTimeout: 5 * time.Second}, s, nil, hub)
	srv := NewServer(Config{AuthToken: token, Owner: "me"}, s, proc, nil, nil, hub)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &apiFixture{store: s, hub: hub, server: ts, token: token}
}

func (fx *apiFixture) get(t *testing.T, params url.Values) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, fx.server.URL+"/microsub?"+params.Encode(), nil)
	if fx.token != "" {
		req.Header.Set("Authorization", "Bearer "+fx.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	return resp, decodeBody(t, resp)
}

func (fx *apiFixture) post(t *testing.T, form url.Values) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, fx.server.URL+"/microsub", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if fx.token != "" {
		req.Header.Set("Authorization", "Bearer "+fx.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Errorf("closing body: %v", err)
		}
	}()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestAuthRequired(t *testing.T) {
	fx := newAPIFixture(t, "sekrit")

	req, _ := http.NewRequest(http.MethodGet, fx.server.URL+"/microsub?action=channels", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d", resp.StatusCode)
	}
	if body["error"] != "unauthorized" {
		t.Errorf("error = %v", body["error"])
	}

	resp, _ = fx.get(t, url.Values{"action": {"channels"}})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("bearer token rejected: status %d", resp.StatusCode)
	}

	// access_token form parameter is accepted too.
	resp2, err := http.PostForm(fx.server.URL+"/microsub", url.Values{
		"action":       {"channels"},
		"name":         {"Via form token"},
		"access_token": {"sekrit"},
	})
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	decodeBody(t, resp2)
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("form token rejected: status %d", resp2.StatusCode)
	}
}

func TestChannelLifecycleOverAPI(t *testing.T) {
	fx := newAPIFixture(t, "")

	resp, body := fx.post(t, url.Values{"action": {"channels"}, "name": {"Tech"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	uid, _ := body["uid"].(string)
	if uid == "" || body["name"] != "Tech" {
		t.Fatalf("create response: %v", body)
	}

	// Listing always includes the notifications channel first.
	_, body = fx.get(t, url.Values{"action": {"channels"}})
	channels, _ := body["channels"].([]any)
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %v", body)
	}
	first, _ := channels[0].(map[string]any)
	if first["uid"] != "notifications" {
		t.Errorf("notifications should be pinned first, got %v", first["uid"])
	}

	resp, body = fx.post(t, url.Values{"action": {"channels"}, "method": {"update"}, "channel": {uid}, "name": {"Technology"}})
	if resp.StatusCode != http.StatusOK || body["name"] != "Technology" {
		t.Errorf("update: %d %v", resp.StatusCode, body)
	}

	resp, _ = fx.post(t, url.Values{"action": {"channels"}, "method": {"delete"}, "channel": {uid}})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete: status %d", resp.StatusCode)
	}

	// The notifications channel refuses deletion.
	resp, _ = fx.post(t, url.Values{"action": {"channels"}, "method": {"delete"}, "channel": {"notifications"}})
	if resp.StatusCode == http.StatusOK {
		t.Error("deleting the notifications channel must fail")
	}
}

func TestChannelValidation(t *testing.T) {
	fx := newAPIFixture(t, "")

	resp, _ := fx.post(t, url.Values{"action": {"channels"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("create without name: status %d", resp.StatusCode)
	}

	long := strings.Repeat("x", 101)
	resp, _ = fx.post(t, url.Values{"action": {"channels"}, "name": {long}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("overlong name: status %d", resp.StatusCode)
	}

	resp, _ = fx.post(t, url.Values{"action": {"bogus"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown action: status %d", resp.StatusCode)
	}

	resp, _ = fx.get(t, url.Values{"action": {"timeline"}, "channel": {"nope"}})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown channel: status %d", resp.StatusCode)
	}
}

func testFeedItem(name string, published time.Time) feed.Item {
	return feed.Item{
		UID:       feed.UID("https://blog.example/feed", name),
		URL:       "https://blog.example/" + name,
		Name:      name,
		Published: published,
		Content:   &feed.Content{Text: "body of " + name},
		Source:    feed.Source{FeedURL: "https://blog.example/feed", OriginalID: name},
	}
}

func seedItems(t *testing.T, fx *apiFixture, n int) *store.Channel {
	t.Helper()
	ch, err := fx.store.CreateChannel("me", "Reading")
	if err != nil {
		t.Fatalf("creating channel: %v", err)
	}
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		it := testFeedItem(fmt.Sprintf("item-%02d", i), base.Add(time.Duration(i)*time.Hour))
		if _, err := fx.store.AddItem(ch.ID, "", it); err != nil {
			t.Fatalf("adding item: %v", err)
		}
	}
	return ch
}

func TestTimelineOverAPI(t *testing.T) {
	fx := newAPIFixture(t, "")
	ch := seedItems(t, fx, 25)

	_, body := fx.get(t, url.Values{"action": {"timeline"}, "channel": {ch.UID}, "limit": {"10"}})
	items, _ := body["items"].([]any)
	if len(items) != 10 {
		t.Fatalf("expected 10 items, got %d", len(items))
	}
	first, _ := items[0].(map[string]any)
	if first["name"] != "item-24" {
		t.Errorf("newest first expected, got %v", first["name"])
	}
	if isRead, ok := first["_is_read"].(bool); !ok || isRead {
		t.Errorf("_is_read = %v", first["_is_read"])
	}

	paging, _ := body["paging"].(map[string]any)
	after, _ := paging["after"].(string)
	if after == "" {
		t.Fatal("expected an after cursor")
	}

	_, body = fx.get(t, url.Values{"action": {"timeline"}, "channel": {ch.UID}, "limit": {"10"}, "after": {after}})
	items, _ = body["items"].([]any)
	if len(items) != 10 {
		t.Fatalf("second page: expected 10 items, got %d", len(items))
	}
	next, _ := items[0].(map[string]any)
	if next["name"] != "item-14" {
		t.Errorf("second page should continue where the first left off, got %v", next["name"])
	}

	resp, _ := fx.get(t, url.Values{"action": {"timeline"}, "channel": {ch.UID}, "after": {"%%%garbage"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed cursor: status %d", resp.StatusCode)
	}
}

func TestMarkReadOverAPI(t *testing.T) {
	fx := newAPIFixture(t, "")
	ch := seedItems(t, fx, 5)

	_, body := fx.get(t, url.Values{"action": {"timeline"}, "channel": {ch.UID}})
	items, _ := body["items"].([]any)
	first, _ := items[0].(map[string]any)
	uid, _ := first["uid"].(string)

	resp, body := fx.post(t, url.Values{
		"action":  {"timeline"},
		"method":  {"mark_read"},
		"channel": {ch.UID},
		"entry[]": {uid},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark_read: status %d", resp.StatusCode)
	}
	if updated, _ := body["updated"].(float64); updated != 1 {
		t.Errorf("updated = %v, want 1", body["updated"])
	}

	// Default timeline hides read items.
	_, body = fx.get(t, url.Values{"action": {"timeline"}, "channel": {ch.UID}})
	items, _ = body["items"].([]any)
	if len(items) != 4 {
		t.Errorf("read item should be hidden, got %d items", len(items))
	}

	_, body = fx.get(t, url.Values{"action": {"timeline"}, "channel": {ch.UID}, "show_read": {"true"}})
	items, _ = body["items"].([]any)
	if len(items) != 5 {
		t.Errorf("show_read should include everything, got %d items", len(items))
	}

	resp, body = fx.post(t, url.Values{
		"action":          {"timeline"},
		"method":          {"mark_read"},
		"channel":         {ch.UID},
		"last_read_entry": {"last-read-entry"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark_read sentinel: status %d", resp.StatusCode)
	}
	if updated, _ := body["updated"].(float64); updated != 4 {
		t.Errorf("sentinel should mark the remaining 4, got %v", body["updated"])
	}
}

func TestFollowAndUnfollow(t *testing.T) {
	fx := newAPIFixture(t, "")
	ch, err := fx.store.CreateChannel("me", "Blogs")
	if err != nil {
		t.Fatalf("creating channel: %v", err)
	}

	resp, body := fx.post(t, url.Values{"action": {"follow"}, "channel": {ch.UID}, "url": {"https://blog.example/feed"}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("follow: status %d", resp.StatusCode)
	}
	if body["type"] != "feed" || body["url"] != "https://blog.example/feed" {
		t.Errorf("follow response: %v", body)
	}

	// Following twice is idempotent, not an error.
	resp, _ = fx.post(t, url.Values{"action": {"follow"}, "channel": {ch.UID}, "url": {"https://blog.example/feed"}})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("duplicate follow: status %d", resp.StatusCode)
	}

	feeds, err := fx.store.ListFeeds(ch.ID)
	if err != nil || len(feeds) != 1 {
		t.Fatalf("expected exactly one feed, got %d (%v)", len(feeds), err)
	}

	resp, _ = fx.post(t, url.Values{"action": {"unfollow"}, "channel": {ch.UID}, "url": {"https://blog.example/feed"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unfollow: status %d", resp.StatusCode)
	}
	feeds, _ = fx.store.ListFeeds(ch.ID)
	if len(feeds) != 0 {
		t.Errorf("feed should be gone, got %d", len(feeds))
	}

	// Unfollowing an unknown feed stays quiet.
	resp, _ = fx.post(t, url.Values{"action": {"unfollow"}, "channel": {ch.UID}, "url": {"https://nowhere.example/feed"}})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unfollow unknown: status %d", resp.StatusCode)
	}
}

func TestMuteAndBlockOverAPI(t *testing.T) {
	fx := newAPIFixture(t, "")
	ch, err := fx.store.CreateChannel("me", "Reading")
	if err != nil {
		t.Fatalf("creating channel: %v", err)
	}

	resp, _ := fx.post(t, url.Values{"action": {"mute"}, "channel": {ch.UID}, "url": {"https://noisy.example/"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mute: status %d", resp.StatusCode)
	}
	muted, err := fx.store.IsMuted("me", ch.ID, "https://noisy.example/")
	if err != nil || !muted {
		t.Errorf("mute not persisted: %v %v", muted, err)
	}

	resp, _ = fx.post(t, url.Values{"action": {"unmute"}, "channel": {ch.UID}, "url": {"https://noisy.example/"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unmute: status %d", resp.StatusCode)
	}

	resp, _ = fx.post(t, url.Values{"action": {"block"}, "url": {"https://spammer.example/"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("block: status %d", resp.StatusCode)
	}
	blocked, err := fx.store.IsBlocked("me", "https://spammer.example/")
	if err != nil || !blocked {
		t.Errorf("block not persisted: %v %v", blocked, err)
	}

	resp, _ = fx.post(t, url.Values{"action": {"mute"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("mute without url: status %d", resp.StatusCode)
	}
}

func TestSearchOverAPI(t *testing.T) {
	fx := newAPIFixture(t, "")
	ch, err := fx.store.CreateChannel("me", "Reading")
	if err != nil {
		t.Fatalf("creating channel: %v", err)
	}
	if _, _, err := fx.store.CreateFeed(ch.ID, "https://golangweekly.example/feed"); err != nil {
		t.Fatalf("creating feed: %v", err)
	}

	it := testFeedItem("hello", time.Now().UTC())
	it.Name = "A post about golang generics"
	if _, err := fx.store.AddItem(ch.ID, "", it); err != nil {
		t.Fatalf("adding item: %v", err)
	}

	// Without a channel the search runs over followed feeds.
	_, body := fx.get(t, url.Values{"action": {"search"}, "query": {"golangweekly"}})
	results, _ := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("feed search: got %v", body)
	}

	// Scoped to a channel it becomes full-text item search.
	_, body = fx.get(t, url.Values{"action": {"search"}, "query": {"generics"}, "channel": {ch.UID}})
	items, _ := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("item search: got %v", body)
	}

	resp, _ := fx.get(t, url.Values{"action": {"search"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("search without query: status %d", resp.StatusCode)
	}
}

func TestSearchDiscoversFeedsFromURL(t *testing.T) {
	pageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head>
<link rel="alternate" type="application/rss+xml" title="Posts" href="/feed">
</head><body><p>hi</p></body></html>`)
	}))
	defer pageServer.Close()

	fx := newAPIFixture(t, "")
	_, body := fx.get(t, url.Values{"action": {"search"}, "query": {pageServer.URL}})
	results, _ := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("discovery: got %v", body)
	}
	first, _ := results[0].(map[string]any)
	if first["url"] != pageServer.URL+"/feed" || first["name"] != "Posts" {
		t.Errorf("candidate = %v", first)
	}
}

func TestPreviewOverAPI(t *testing.T) {
	feedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>Preview Me</title>
<item><title>Only item</title><guid>1</guid><link>https://blog.example/1</link></item>
</channel></rss>`)
	}))
	defer feedServer.Close()

	fx := newAPIFixture(t, "")

	_, body := fx.get(t, url.Values{"action": {"preview"}, "url": {feedServer.URL}})
	feedInfo, _ := body["feed"].(map[string]any)
	if feedInfo["name"] != "Preview Me" {
		t.Errorf("preview feed: %v", body)
	}
	items, _ := body["items"].([]any)
	if len(items) != 1 {
		t.Errorf("preview items: %v", body)
	}

	// Preview never persists anything.
	channels, err := fx.store.ListChannels("me", 30)
	if err != nil {
		t.Fatalf("listing channels: %v", err)
	}
	for _, ch := range channels {
		feeds, _ := fx.store.ListFeeds(ch.ID)
		if len(feeds) != 0 {
			t.Errorf("preview must not create feeds, found %d", len(feeds))
		}
	}

	resp, _ := fx.get(t, url.Values{"action": {"preview"}, "url": {"http://127.0.0.1:1/feed"}})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("unreachable preview: status %d, want 502", resp.StatusCode)
	}
}

func TestFirehoseWebSocket(t *testing.T) {
	fx := newAPIFixture(t, "")

	wsURL := "ws" + strings.TrimPrefix(fx.server.URL, "http") + "/firehose"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer func() { _ = conn.Close() }()

	var init map[string]any
	if err := conn.ReadJSON(&init); err != nil {
		t.Fatalf("reading init: %v", err)
	}
	if init["type"] != "init" {
		t.Fatalf("expected init frame, got %v", init)
	}

	fx.hub.Broadcast(realtime.NewItemEvent("chan1", "uid1", "https://blog.example/1", "Hello"))

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if event["type"] != "item" || event["channel"] != "chan1" || event["uid"] != "uid1" {
		t.Errorf("event = %v", event)
	}
}

func TestHealthAndCors(t *testing.T) {
	fx := newAPIFixture(t, "")

	resp, err := http.Get(fx.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health: %d %v", resp.StatusCode, body)
	}

	handler := CorsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS preflight: status %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
