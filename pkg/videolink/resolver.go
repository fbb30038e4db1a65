package videolink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrUnrecognizedLink means the input is neither a video link nor a short link.
	// No network request is made in that case.
	ErrUnrecognizedLink = errors.New("unrecognized link")
	// ErrNoIdentifier means a short link was followed but led somewhere
	// without a video identifier.
	ErrNoIdentifier = errors.New("no video identifier after redirect")
	// ErrShortLinkRequest means the short link request itself failed.
	ErrShortLinkRequest = errors.New("short link request failed")

	videoURLRegex = regexp.MustCompile(`(?:www\.|m\.)?bilibili\.com/video/(BV[a-zA-Z0-9]+)`)

	defaultShortLinkMarkers = []string{"b23.tv", "b23."}
)

// ResolveError wraps every failure of Resolve. Use errors.Is with
// ErrUnrecognizedLink, ErrNoIdentifier or ErrShortLinkRequest to tell the
// cases apart.
type ResolveError struct {
	Input    string
	FinalURL string // set once a short link request got a response
	Err      error
}

func (e *ResolveError) Error() string {
	if e.FinalURL != "" {
		return fmt.Sprintf("resolve %q: %v (final URL %s)", e.Input, e.Err, e.FinalURL)
	}
	return fmt.Sprintf("resolve %q: %v", e.Input, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// MatchVideoURL finds the first canonical video URL inside s.
func MatchVideoURL(s string) (ID, bool) {
	matches := videoURLRegex.FindStringSubmatch(s)
	if len(matches) < 2 {
		return "", false
	}
	return ID(matches[1]), true
}

// Resolver maps links to identifiers. It keeps no state between calls.
type Resolver struct {
	client    *http.Client
	markers   []string
	timeout   time.Duration
	userAgent string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used for short link requests. Its redirect
// policy is replaced.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.client = newHTTPClient(client)
	}
}

// WithTimeout bounds each short link request.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithShortLinkMarkers replaces the substrings that identify a short link.
func WithShortLinkMarkers(markers ...string) Option {
	return func(r *Resolver) {
		r.markers = append([]string(nil), markers...)
	}
}

// WithUserAgent overrides the user agent sent on short link requests.
func WithUserAgent(userAgent string) Option {
	return func(r *Resolver) {
		if userAgent != "" {
			r.userAgent = userAgent
		}
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client:    newHTTPClient(nil),
		markers:   defaultShortLinkMarkers,
		timeout:   defaultShortLinkTimeout,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsShortLink reports whether link carries a short link marker.
func (r *Resolver) IsShortLink(link string) bool {
	for _, marker := range r.markers {
		if marker != "" && strings.Contains(link, marker) {
			return true
		}
	}
	return false
}

// Resolve returns the identifier behind link. Canonical video URLs are
// answered locally; short links cost exactly one redirect-following request.
func (r *Resolver) Resolve(ctx context.Context, link string) (ID, error) {
	normalized := withScheme(link)

	if id, ok := MatchVideoURL(normalized); ok {
		return id, nil
	}

	if !r.IsShortLink(normalized) {
		return "", &ResolveError{Input: link, Err: ErrUnrecognizedLink}
	}

	return r.followShortLink(ctx, link, normalized)
}

func (r *Resolver) followShortLink(ctx context.Context, input, shortURL string) (ID, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shortURL, http.NoBody)
	if err != nil {
		return "", &ResolveError{Input: input, Err: fmt.Errorf("%w: %w", ErrShortLinkRequest, err)}
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", commonAcceptHeader)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &ResolveError{Input: input, Err: fmt.Errorf("%w: %w", ErrShortLinkRequest, err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	finalURL := shortURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	if loc, locErr := resp.Location(); locErr == nil {
		finalURL = loc.String()
	}

	if id, ok := MatchVideoURL(finalURL); ok {
		return id, nil
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := &StatusError{URL: finalURL, StatusCode: resp.StatusCode}
		return "", &ResolveError{
			Input:    input,
			FinalURL: finalURL,
			Err:      fmt.Errorf("%w: %w", ErrShortLinkRequest, statusErr),
		}
	}

	if canonical, ok := canonicalFromHTML(resp.Body); ok {
		if id, ok := MatchVideoURL(canonical); ok {
			return id, nil
		}
	}

	return "", &ResolveError{Input: input, FinalURL: finalURL, Err: ErrNoIdentifier}
}

func withScheme(link string) string {
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return "https://" + link
}
