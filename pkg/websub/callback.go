package websub

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/skimreader/skim/pkg/store"
)

// maxPushBytes caps how much pushed content is buffered per request.
const maxPushBytes = 10 << 20

// PushFunc receives verified pushed content for a feed. It runs after the
// hub has been acknowledged, so failures stay local.
type PushFunc func(ctx context.Context, f *store.Feed, body []byte, contentType string)

// CallbackHandler serves the per-feed hub callback: GET for subscription
// verification, POST for content distribution.
type CallbackHandler struct {
	store *store.Store
	push  PushFunc
}

func NewCallbackHandler(st *store.Store, push PushFunc) *CallbackHandler {
	return &CallbackHandler{store: st, push: push}
}

// Verify answers the hub's intent verification. Unknown feeds are 404 and
// topic mismatches 400, so a hub cannot confirm a subscription this
// subscriber never asked for.
func (h *CallbackHandler) Verify(w http.ResponseWriter, r *http.Request, feedID string) {
	f, err := h.store.GetFeed(feedID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "unknown feed", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	topic := query.Get("hub.topic")
	challenge := query.Get("hub.challenge")

	if topic == "" || (topic != f.URL && topic != f.WebSub.Topic) {
		http.Error(w, "topic mismatch", http.StatusBadRequest)
		return
	}

	if query.Get("hub.mode") != "unsubscribe" {
		lease, err := strconv.Atoi(query.Get("hub.lease_seconds"))
		if err != nil || lease <= 0 {
			lease = defaultLeaseSeconds
		}

		ws := f.WebSub
		ws.Topic = topic
		ws.LeaseSeconds = lease
		ws.ExpiresAt = time.Now().UTC().Add(time.Duration(lease) * time.Second)
		ws.Pending = false
		if err := h.store.SaveWebSub(f.ID, ws); err != nil {
			logger.Errorf("Persisting verified lease for %s: %v", f.URL, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		logger.Infof("Subscription verified for %s, lease %ds", f.URL, lease)
	}

	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte(challenge)); err != nil {
		logger.Warnf("Writing challenge: %v", err)
	}
}

// Receive accepts a content push. When a secret is on record the payload
// signature is mandatory; a mismatch is 401 and the body is dropped. The
// hub is acknowledged before processing starts.
func (h *CallbackHandler) Receive(w http.ResponseWriter, r *http.Request, feedID string) {
	f, err := h.store.GetFeed(feedID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "unknown feed", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBytes))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	if f.WebSub.Secret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if signature == "" {
			signature = r.Header.Get("X-Hub-Signature")
		}
		if !validSignature(signature, f.WebSub.Secret, body) {
			logger.Warnf("Rejected push for %s: signature mismatch", f.URL)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	w.WriteHeader(http.StatusOK)

	contentType := r.Header.Get("Content-Type")
	if h.push != nil {
		go h.push(context.Background(), f, body, contentType)
	}
}

// validSignature checks a hub signature header of the form "sha256=hex"
// (or legacy "sha1=hex") in constant time.
func validSignature(header, secret string, body []byte) bool {
	method, sentHex, found := strings.Cut(header, "=")
	if !found {
		return false
	}

	var mac hash.Hash
	switch strings.ToLower(method) {
	case "sha256":
		mac = hmac.New(sha256.New, []byte(secret))
	case "sha1":
		mac = hmac.New(sha1.New, []byte(secret))
	default:
		return false
	}

	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sentHex)))
}
