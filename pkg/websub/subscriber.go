// Package websub implements the subscriber half of the WebSub protocol:
// subscribing to a publisher's hub, answering verification challenges, and
// accepting signed content pushes that short-circuit polling.
package websub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skimreader/skim/pkg/log"
	"github.com/skimreader/skim/pkg/store"
)

var logger = log.ForService("websub")

const defaultLeaseSeconds = 604800 // 7 days

type Subscriber struct {
	client       *http.Client
	store        *store.Store
	baseURL      string
	mountPath    string
	leaseSeconds int
}

func NewSubscriber(st *store.Store, baseURL, mountPath string, leaseSeconds int) *Subscriber {
	if leaseSeconds <= 0 {
		leaseSeconds = defaultLeaseSeconds
	}
	return &Subscriber{
		client:       &http.Client{Timeout: 30 * time.Second},
		store:        st,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		mountPath:    mountPath,
		leaseSeconds: leaseSeconds,
	}
}

// CallbackURL is the publicly reachable endpoint the hub verifies and
// pushes to for one feed.
func (s *Subscriber) CallbackURL(feedID string) string {
	return s.baseURL + s.mountPath + "/websub/" + feedID
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating websub secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Subscribe asks the hub for a subscription on topic and persists the
// pending state. The hub confirms asynchronously via the GET callback.
func (s *Subscriber) Subscribe(ctx context.Context, f *store.Feed, hub, topic string) error {
	if s.baseURL == "" {
		return fmt.Errorf("no public base URL configured, cannot subscribe to %s", hub)
	}

	secret, err := randomSecret()
	if err != nil {
		return err
	}

	if err := s.post(ctx, hub, url.Values{
		"hub.mode":          {"subscribe"},
		"hub.topic":         {topic},
		"hub.callback":      {s.CallbackURL(f.ID)},
		"hub.secret":        {secret},
		"hub.lease_seconds": {strconv.Itoa(s.leaseSeconds)},
	}); err != nil {
		return err
	}

	logger.Infof("Subscription requested at %s for %s", hub, topic)
	return s.store.SaveWebSub(f.ID, store.WebSub{
		Hub:     hub,
		Topic:   topic,
		Secret:  secret,
		Pending: true,
	})
}

// Renew re-subscribes using the stored hub and topic.
func (s *Subscriber) Renew(ctx context.Context, f *store.Feed) error {
	if f.WebSub.Hub == "" {
		return fmt.Errorf("feed %s has no hub to renew against", f.URL)
	}
	topic := f.WebSub.Topic
	if topic == "" {
		topic = f.URL
	}
	return s.Subscribe(ctx, f, f.WebSub.Hub, topic)
}

// Unsubscribe notifies the hub and clears the secret and lease. Hub
// refusals beyond the accepted statuses are logged, not returned: the feed
// is going away either way.
func (s *Subscriber) Unsubscribe(ctx context.Context, f *store.Feed) error {
	if f.WebSub.Hub == "" {
		return nil
	}

	topic := f.WebSub.Topic
	if topic == "" {
		topic = f.URL
	}

	if err := s.post(ctx, f.WebSub.Hub, url.Values{
		"hub.mode":     {"unsubscribe"},
		"hub.topic":    {topic},
		"hub.callback": {s.CallbackURL(f.ID)},
	}); err != nil {
		logger.Warnf("Unsubscribe from %s: %v", f.WebSub.Hub, err)
	}

	return s.store.SaveWebSub(f.ID, store.WebSub{
		Hub:   f.WebSub.Hub,
		Topic: topic,
	})
}

func (s *Subscriber) post(ctx context.Context, hub string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hub, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building hub request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to hub %s: %w", hub, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Printf("Warning: failed to close response body: %v\n", err)
		}
	}()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("hub %s refused %s: status %d", hub, form.Get("hub.mode"), resp.StatusCode)
	}
	return nil
}
