// Package webmention accepts inbound webmentions, verifies that the
// source really links to the target, classifies the interaction, and
// persists the result in the owner's notifications channel.
package webmention

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/skimreader/skim/pkg/feed"
	"github.com/skimreader/skim/pkg/log"
	"github.com/skimreader/skim/pkg/mf2"
	"github.com/skimreader/skim/pkg/store"
)

var logger = log.ForService("webmention")

type Verifier struct {
	store   *store.Store
	fetcher *feed.Fetcher
	owner   string
	timeout time.Duration
}

func NewVerifier(st *store.Store, owner string, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{
		store:   st,
		fetcher: feed.NewFetcher(timeout),
		owner:   owner,
		timeout: timeout,
	}
}

// Verify fetches source, confirms the link back to target, and upserts
// (or removes) the notification. A source that no longer exists or no
// longer references the target deletes any stored entry.
func (v *Verifier) Verify(ctx context.Context, source, target string) error {
	result, err := v.fetcher.Fetch(ctx, source, feed.FetchOptions{Timeout: v.timeout})
	if err != nil {
		var httpErr *feed.HTTPError
		if errors.As(err, &httpErr) && (httpErr.Status == http.StatusNotFound || httpErr.Status == http.StatusGone) {
			if delErr := v.store.DeleteNotification(v.owner, source, target); delErr != nil {
				return delErr
			}
		}
		return fmt.Errorf("fetching source %s: %w", source, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
	if err != nil {
		return fmt.Errorf("parsing source %s: %w", source, err)
	}

	base, _ := url.Parse(source)
	if !linksTo(doc, base, target) {
		if err := v.store.DeleteNotification(v.owner, source, target); err != nil {
			return err
		}
		return fmt.Errorf("source %s does not link to %s", source, target)
	}

	item := v.buildNotification(doc, base, source, target)
	if err := v.store.UpsertNotification(v.owner, source, target, item); err != nil {
		return err
	}

	logger.Infof("Verified %s from %s -> %s", item.Type, source, target)
	return nil
}

// linksTo reports whether any anchor in the document points at target,
// ignoring a trailing slash.
func linksTo(doc *goquery.Document, base *url.URL, target string) bool {
	found := false
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href := sel.AttrOr("href", "")
		if base != nil {
			if parsed, err := url.Parse(href); err == nil {
				href = base.ResolveReference(parsed).String()
			}
		}
		if sameURL(href, target) {
			found = true
			return false
		}
		return true
	})
	return found
}

func sameURL(a, b string) bool {
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}

// buildNotification extracts the mention entry and classifies it. With no
// matching h-entry the mention degrades to a bare link notification.
func (v *Verifier) buildNotification(doc *goquery.Document, base *url.URL, source, target string) feed.Item {
	entries := mf2.ParseEntries(doc, base)

	var entry *mf2.Entry
	for _, e := range entries {
		if referencesTarget(e, target) {
			entry = e
			break
		}
	}
	if entry == nil && len(entries) > 0 {
		entry = entries[0]
	}

	var item feed.Item
	if entry != nil {
		item = feed.NormalizeEntry(entry, target)
	}

	// Key the notification by the (source, target) pair, not by whatever
	// uid the entry carries.
	item.UID = feed.UID(target, source)
	item.Type = classify(entry, target)
	if item.URL == "" {
		item.URL = source
	}
	if item.Content == nil {
		if item.Summary != "" {
			item.Content = &feed.Content{Text: item.Summary}
		} else if item.Name != "" {
			item.Content = &feed.Content{Text: item.Name}
		}
	}
	if item.Author == nil {
		if card := mf2.RepresentativeCard(doc, base); card != nil {
			item.Author = &feed.Author{Name: card.Name, URL: card.URL, Photo: card.Photo}
		}
	}
	item.Source = feed.Source{FeedURL: source, OriginalID: source}

	return item
}

func referencesTarget(e *mf2.Entry, target string) bool {
	for _, list := range [][]string{e.LikeOf, e.RepostOf, e.BookmarkOf, e.InReplyTo} {
		for _, u := range list {
			if sameURL(u, target) {
				return true
			}
		}
	}
	return false
}

// classify picks the mention type in precedence order.
func classify(e *mf2.Entry, target string) string {
	if e == nil {
		return "mention"
	}
	switch {
	case containsURL(e.LikeOf, target):
		return "like"
	case containsURL(e.RepostOf, target):
		return "repost"
	case containsURL(e.BookmarkOf, target):
		return "bookmark"
	case containsURL(e.InReplyTo, target):
		return "reply"
	default:
		return "mention"
	}
}

func containsURL(list []string, target string) bool {
	for _, u := range list {
		if sameURL(u, target) {
			return true
		}
	}
	return false
}

// Receiver is the HTTP endpoint webmention senders post to. Validation is
// synchronous; verification happens in the background after the 202.
type Receiver struct {
	verifier *Verifier
}

func NewReceiver(v *Verifier) *Receiver {
	return &Receiver{verifier: v}
}

func (rcv *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	source := r.PostFormValue("source")
	target := r.PostFormValue("target")
	if !isAbsoluteURL(source) || !isAbsoluteURL(target) {
		http.Error(w, "source and target must be absolute URLs", http.StatusBadRequest)
		return
	}
	if sameURL(source, target) {
		http.Error(w, "source and target must differ", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := rcv.verifier.Verify(ctx, source, target); err != nil {
			// The sender already got its 202; failures only matter to us.
			logger.Debugf("Verification failed for %s -> %s: %v", source, target, err)
		}
	}()
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
