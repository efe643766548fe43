package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

const acceptHeader = "application/atom+xml, application/rss+xml, application/json, application/feed+json, text/xml, text/html;q=0.9, */*;q=0.8"

const defaultUserAgent = "skim/1.0 (+https://github.com/skimreader/skim)"

// maxBodyBytes caps how much of a response is buffered. Feeds larger than
// this are truncated rather than exhausting memory.
const maxBodyBytes = 10 << 20

// HTTPError is returned for non-2xx responses that are not 304.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Status)
}

// FetchOptions carries conditional request validators and an optional
// per-request timeout override (discovery probes use a shorter one).
type FetchOptions struct {
	ETag         string
	LastModified string
	Timeout      time.Duration
}

// Result is a successful retrieval. NotModified is set for 304 responses;
// all other fields are empty in that case except the validators echoed back.
type Result struct {
	Status       int
	ContentType  string
	Body         []byte
	ETag         string
	LastModified string

	// Hub and Self are taken from the Link response header when present.
	Hub  string
	Self string

	NotModified bool
}

// Fetcher retrieves feed documents with conditional requests and redirect
// following. Safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
	}
}

// Fetch performs a conditional GET of url. A 304 yields Result{NotModified:
// true}; other non-2xx statuses yield an *HTTPError.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts FetchOptions) (*Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)
	if opts.ETag != "" {
		req.Header.Set("If-None-Match", opts.ETag)
	}
	if opts.LastModified != "" {
		req.Header.Set("If-Modified-Since", opts.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Printf("Warning: failed to close response body: %v\n", err)
		}
	}()

	hub, self := parseLinkHeader(resp.Header.Values("Link"))

	if resp.StatusCode == http.StatusNotModified {
		return &Result{
			Status:       resp.StatusCode,
			ETag:         opts.ETag,
			LastModified: opts.LastModified,
			Hub:          hub,
			Self:         self,
			NotModified:  true,
		}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	body, err := decodeBody(resp.Body, contentType)
	if err != nil {
		return nil, fmt.Errorf("reading body from %s: %w", url, err)
	}

	return &Result{
		Status:       resp.StatusCode,
		ContentType:  contentType,
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		Hub:          hub,
		Self:         self,
	}, nil
}

// decodeBody reads at most maxBodyBytes and converts legacy encodings to
// UTF-8 based on the Content-Type charset parameter.
func decodeBody(r io.Reader, contentType string) ([]byte, error) {
	limited := io.LimitReader(r, maxBodyBytes)
	decoded, err := charset.NewReader(limited, contentType)
	if err != nil {
		// Unknown charset label; fall back to the raw bytes.
		return io.ReadAll(limited)
	}
	return io.ReadAll(decoded)
}

// parseLinkHeader extracts rel="hub" and rel="self" targets. Relation
// matching is tolerant: case-insensitive, quotes optional.
func parseLinkHeader(values []string) (hub, self string) {
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			target, rels := parseLinkValue(part)
			if target == "" {
				continue
			}
			for _, rel := range rels {
				switch rel {
				case "hub":
					if hub == "" {
						hub = target
					}
				case "self":
					if self == "" {
						self = target
					}
				}
			}
		}
	}
	return hub, self
}

func parseLinkValue(part string) (target string, rels []string) {
	segments := strings.Split(part, ";")
	if len(segments) == 0 {
		return "", nil
	}

	urlPart := strings.TrimSpace(segments[0])
	if !strings.HasPrefix(urlPart, "<") || !strings.HasSuffix(urlPart, ">") {
		return "", nil
	}
	target = strings.Trim(urlPart, "<>")

	for _, param := range segments[1:] {
		key, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "rel") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		for _, rel := range strings.Fields(value) {
			rels = append(rels, strings.ToLower(rel))
		}
	}

	return target, rels
}
