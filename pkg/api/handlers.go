package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/skimreader/skim/pkg/store"
)

func itemID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (s *Server) handleMicrosubGet(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("action") {
	case "channels":
		s.handleChannelsList(w, r)
	case "timeline":
		s.handleTimelineGet(w, r)
	case "search":
		s.handleSearch(w, r)
	case "preview":
		s.handlePreview(w, r)
	case "events":
		s.handleEventsSSE(w, r)
	default:
		s.writeError(w, http.StatusBadRequest, "invalid_request", "unknown action")
	}
}

func (s *Server) handleMicrosubPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid form body")
		return
	}

	switch r.Form.Get("action") {
	case "channels":
		s.handleChannelsPost(w, r)
	case "timeline":
		s.handleTimelinePost(w, r)
	case "follow":
		s.handleFollow(w, r)
	case "unfollow":
		s.handleUnfollow(w, r)
	case "mute":
		s.handleMute(w, r, true)
	case "unmute":
		s.handleMute(w, r, false)
	case "block":
		s.handleBlock(w, r, true)
	case "unblock":
		s.handleBlock(w, r, false)
	case "search":
		s.handleSearch(w, r)
	case "preview":
		s.handlePreview(w, r)
	default:
		s.writeError(w, http.StatusBadRequest, "invalid_request", "unknown action")
	}
}

// resolveChannel maps a channel uid from the request to the stored channel,
// creating the notifications channel on demand.
func (s *Server) resolveChannel(uid string) (*store.Channel, error) {
	if uid == store.NotificationsUID {
		return s.store.EnsureNotificationsChannel(s.config.Owner)
	}
	return s.store.GetChannel(s.config.Owner, uid)
}

func (s *Server) channelError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "not_found", "channel not found")
		return
	}
	logger.Errorf("Resolving channel: %v", err)
	s.writeError(w, http.StatusInternalServerError, "server_error", "")
}

func (s *Server) handleChannelsList(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.EnsureNotificationsChannel(s.config.Owner); err != nil {
		logger.Errorf("Ensuring notifications channel: %v", err)
	}

	channels, err := s.store.ListChannels(s.config.Owner, s.config.UnreadRetentionDays)
	if err != nil {
		logger.Errorf("Listing channels: %v", err)
		s.writeError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	response := ChannelsResponse{Channels: make([]ChannelInfo, 0, len(channels))}
	for _, ch := range channels {
		response.Channels = append(response.Channels, ChannelInfo{
			UID:    ch.UID,
			Name:   ch.Name,
			Unread: ch.Unread,
		})
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleChannelsPost(w http.ResponseWriter, r *http.Request) {
	switch r.Form.Get("method") {
	case "delete":
		uid := r.Form.Get("channel")
		if uid == "" {
			uid = r.Form.Get("uid")
		}
		if uid == "" {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "channel is required")
			return
		}
		if err := s.store.DeleteChannel(s.config.Owner, uid); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.writeError(w, http.StatusNotFound, "not_found", "channel not found")
				return
			}
			s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})

	case "order":
		uids := formList(r, "channels")
		if len(uids) == 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "channels[] is required")
			return
		}
		if err := s.store.OrderChannels(s.config.Owner, uids); err != nil {
			logger.Errorf("Ordering channels: %v", err)
			s.writeError(w, http.StatusInternalServerError, "server_error", "")
			return
		}
		s.handleChannelsList(w, r)

	case "update":
		uid := r.Form.Get("channel")
		name := r.Form.Get("name")
		if uid == "" || name == "" {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "channel and name are required")
			return
		}
		ch, err := s.store.UpdateChannelName(s.config.Owner, uid, name)
		if err != nil {
			s.channelError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, ChannelInfo{UID: ch.UID, Name: ch.Name})

	case "":
		name := r.Form.Get("name")
		if name == "" || len(name) > 100 {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "name must be 1-100 characters")
			return
		}
		ch, err := s.store.CreateChannel(s.config.Owner, name)
		if err != nil {
			logger.Errorf("Creating channel: %v", err)
			s.writeError(w, http.StatusInternalServerError, "server_error", "")
			return
		}
		s.writeJSON(w, http.StatusOK, ChannelInfo{UID: ch.UID, Name: ch.Name})

	default:
		s.writeError(w, http.StatusBadRequest, "invalid_request", "unknown method")
	}
}

func (s *Server) handleTimelineGet(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	uid := query.Get("channel")
	if uid == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "channel is required")
		return
	}
	ch, err := s.resolveChannel(uid)
	if err != nil {
		s.channelError(w, err)
		return
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
	}

	page, err := s.store.Timeline(ch.ID, store.TimelineQuery{
		Owner:    s.config.Owner,
		Before:   query.Get("before"),
		After:    query.Get("after"),
		Limit:    limit,
		ShowRead: query.Get("show_read") == "true" || ch.UID == store.NotificationsUID,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	response := TimelineResponse{Items: make([]Item, 0, len(page.Items))}
	for _, it := range page.Items {
		response.Items = append(response.Items, renderStoredItem(it))
	}
	if page.Before != "" || page.After != "" {
		response.Paging = &Paging{Before: page.Before, After: page.After}
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleTimelinePost(w http.ResponseWriter, r *http.Request) {
	uid := r.Form.Get("channel")
	if uid == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "channel is required")
		return
	}
	ch, err := s.resolveChannel(uid)
	if err != nil {
		s.channelError(w, err)
		return
	}

	entries := formList(r, "entry")
	if last := r.Form.Get("last_read_entry"); last != "" {
		entries = append(entries, last)
	}
	if len(entries) == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "entry is required")
		return
	}

	switch r.Form.Get("method") {
	case "mark_read":
		updated, err := s.store.MarkRead(ch.ID, s.config.Owner, entries)
		if err != nil {
			logger.Errorf("Marking read: %v", err)
			s.writeError(w, http.StatusInternalServerError, "server_error", "")
			return
		}
		// Read items past the retention cap collapse to dedup skeletons.
		if err := s.store.CleanupChannel(ch.ID, s.config.Owner, s.config.MaxFullReadItems); err != nil {
			logger.Warnf("Cleaning up channel %s: %v", ch.UID, err)
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"result": "ok", "updated": updated})

	case "mark_unread":
		updated, err := s.store.MarkUnread(ch.ID, s.config.Owner, entries)
		if err != nil {
			logger.Errorf("Marking unread: %v", err)
			s.writeError(w, http.StatusInternalServerError, "server_error", "")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"result": "ok", "updated": updated})

	case "remove":
		removed, err := s.store.RemoveItems(ch.ID, entries)
		if err != nil {
			logger.Errorf("Removing items: %v", err)
			s.writeError(w, http.StatusInternalServerError, "server_error", "")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"result": "ok", "removed": removed})

	default:
		s.writeError(w, http.StatusBadRequest, "invalid_request", "unknown method")
	}
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	uid := r.Form.Get("channel")
	feedURL := r.Form.Get("url")
	if uid == "" || feedURL == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "channel and url are required")
		return
	}
	ch, err := s.resolveChannel(uid)
	if err != nil {
		s.channelError(w, err)
		return
	}

	f, created, err := s.store.CreateFeed(ch.ID, feedURL)
	if err != nil {
		logger.Errorf("Creating feed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	// First fetch happens out of band so the follow returns immediately.
	if created && s.scheduler != nil {
		feedID := f.ID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := s.scheduler.RefreshFeed(ctx, feedID); err != nil {
				logger.Warnf("Initial fetch of %s: %v", feedURL, err)
			}
		}()
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, FeedInfo{Type: "feed", URL: f.URL, Name: f.Title, Photo: f.Photo})
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	uid := r.Form.Get("channel")
	feedURL := r.Form.Get("url")
	if uid == "" || feedURL == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "channel and url are required")
		return
	}
	ch, err := s.resolveChannel(uid)
	if err != nil {
		s.channelError(w, err)
		return
	}

	f, err := s.store.FindFeed(ch.ID, feedURL)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Unfollowing something never followed is a no-op.
			s.writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
			return
		}
		logger.Errorf("Finding feed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	if s.sub != nil && f.WebSub.Hub != "" {
		if err := s.sub.Unsubscribe(r.Context(), f); err != nil {
			logger.Warnf("Unsubscribing %s: %v", f.URL, err)
		}
	}
	if err := s.store.DeleteFeed(f.ID); err != nil {
		logger.Errorf("Deleting feed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "server_error", "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request, mute bool) {
	target := r.Form.Get("url")
	if target == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}

	channelID := ""
	if uid := r.Form.Get("channel"); uid != "" && uid != "global" {
		ch, err := s.resolveChannel(uid)
		if err != nil {
			s.channelError(w, err)
			return
		}
		channelID = ch.ID
	}

	var err error
	if mute {
		err = s.store.Mute(s.config.Owner, channelID, target)
	} else {
		err = s.store.Unmute(s.config.Owner, channelID, target)
	}
	if err != nil {
		logger.Errorf("Updating mutes: %v", err)
		s.writeError(w, http.StatusInternalServerError, "server_error", "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request, block bool) {
	target := r.Form.Get("url")
	if target == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}

	var err error
	if block {
		err = s.store.Block(s.config.Owner, target)
	} else {
		err = s.store.Unblock(s.config.Owner, target)
	}
	if err != nil {
		logger.Errorf("Updating blocks: %v", err)
		s.writeError(w, http.StatusInternalServerError, "server_error", "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// handleSearch searches items within a channel, or the owner's followed
// feeds when no channel is given.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.FormValue("query")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}

	if uid := r.FormValue("channel"); uid != "" {
		ch, err := s.resolveChannel(uid)
		if err != nil {
			s.channelError(w, err)
			return
		}
		items, err := s.store.SearchItems(ch.ID, s.config.Owner, query, 40)
		if err != nil {
			logger.Errorf("Searching items: %v", err)
			s.writeError(w, http.StatusInternalServerError, "server_error", "")
			return
		}
		rendered := make([]Item, 0, len(items))
		for _, it := range items {
			rendered = append(rendered, renderStoredItem(it))
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"items": rendered})
		return
	}

	// A URL query probes the page for followable feeds; anything else
	// searches the feeds already followed.
	if u, err := url.Parse(query); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		discovered, err := s.proc.Discover(r.Context(), query)
		if err != nil {
			s.writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
			return
		}
		results := make([]FeedInfo, 0, len(discovered))
		for _, d := range discovered {
			results = append(results, FeedInfo{Type: "feed", URL: d.URL, Name: d.Title})
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
		return
	}

	feeds, err := s.store.SearchFeeds(s.config.Owner, query)
	if err != nil {
		logger.Errorf("Searching feeds: %v", err)
		s.writeError(w, http.StatusInternalServerError, "server_error", "")
		return
	}
	results := make([]FeedInfo, 0, len(feeds))
	for _, f := range feeds {
		results = append(results, FeedInfo{Type: "feed", URL: f.URL, Name: f.Title, Photo: f.Photo})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	previewURL := r.FormValue("url")
	if previewURL == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}

	parsed, err := s.proc.Preview(r.Context(), previewURL)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}

	items := parsed.Items
	if len(items) > 10 {
		items = items[:10]
	}
	response := PreviewResponse{
		Feed:  FeedInfo{Type: "feed", URL: previewURL, Name: parsed.Meta.Title, Photo: parsed.Meta.Photo},
		Items: make([]Item, 0, len(items)),
	}
	for i := range items {
		response.Items = append(response.Items, renderParsedItem(&items[i]))
	}
	s.writeJSON(w, http.StatusOK, response)
}

// formList collects repeated form values under both key and key[].
func formList(r *http.Request, key string) []string {
	values := r.Form[key]
	values = append(values, r.Form[key+"[]"]...)
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
