package videolink

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultUserAgent is the desktop browser user agent sent to the platform.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	// commonAcceptHeader is the accept header used for short link requests.
	commonAcceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	// defaultShortLinkTimeout bounds the whole short link request, redirects included.
	defaultShortLinkTimeout = 5 * time.Second
	// maxHTTPRedirects is the maximum number of HTTP redirects to follow.
	maxHTTPRedirects = 10
	// maxPageReadSize caps how much of a landing page is parsed.
	maxPageReadSize = 1 << 20
)

var (
	// ErrTooManyRedirects is returned when too many redirects are encountered.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// StatusError reports a non-2xx response that carried no usable redirect.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

// newHTTPClient returns a copy of base whose redirect policy stops as soon
// as the chain reaches a canonical video URL.
func newHTTPClient(base *http.Client) *http.Client {
	client := &http.Client{}
	if base != nil {
		*client = *base
	}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if _, ok := MatchVideoURL(req.URL.String()); ok {
			return http.ErrUseLastResponse
		}
		if len(via) >= maxHTTPRedirects {
			return ErrTooManyRedirects
		}
		return nil
	}
	return client
}

// canonicalFromHTML looks for the page's canonical URL, which event and
// campaign landing pages set to the underlying video.
func canonicalFromHTML(r io.Reader) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(r, maxPageReadSize))
	if err != nil {
		return "", false
	}

	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		return strings.TrimSpace(href), true
	}
	if content, ok := doc.Find(`meta[property="og:url"]`).First().Attr("content"); ok && strings.TrimSpace(content) != "" {
		return strings.TrimSpace(content), true
	}
	return "", false
}
