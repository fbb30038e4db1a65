package videolink

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newResponse(req *http.Request, status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func redirectTo(req *http.Request, location string) *http.Response {
	return newResponse(req, http.StatusFound, http.Header{"Location": []string{location}}, "")
}

// newStubResolver builds a resolver whose requests are answered by handler.
func newStubResolver(calls *int32, handler roundTripFunc) *Resolver {
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(calls, 1)
		return handler(req)
	})
	return NewResolver(WithHTTPClient(&http.Client{Transport: transport}))
}

func failOnRequest(t *testing.T) roundTripFunc {
	t.Helper()
	return func(req *http.Request) (*http.Response, error) {
		t.Errorf("unexpected request to %s", req.URL)
		return nil, errors.New("unexpected request")
	}
}

func TestResolver_DirectLinks(t *testing.T) {
	var calls int32
	resolver := newStubResolver(&calls, failOnRequest(t))

	tests := []struct {
		name     string
		input    string
		expected ID
	}{
		{"Desktop link", "https://www.bilibili.com/video/BV1xx411c7mD", "BV1xx411c7mD"},
		{"Mobile link", "https://m.bilibili.com/video/BV1xx411c7mD", "BV1xx411c7mD"},
		{"Bare domain", "https://bilibili.com/video/BV1xx411c7mD", "BV1xx411c7mD"},
		{"Missing scheme", "www.bilibili.com/video/BV1xx411c7mD", "BV1xx411c7mD"},
		{"Plain http", "http://www.bilibili.com/video/BV1xx411c7mD", "BV1xx411c7mD"},
		{"Query string", "https://www.bilibili.com/video/BV1xx411c7mD?p=2&share_source=copy", "BV1xx411c7mD"},
		{"Trailing slash", "https://www.bilibili.com/video/BV1xx411c7mD/", "BV1xx411c7mD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := resolver.Resolve(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if id != tt.expected {
				t.Errorf("Resolve() = %q, want %q", id, tt.expected)
			}
		})
	}

	if calls != 0 {
		t.Errorf("direct links made %d requests, want 0", calls)
	}
}

func TestResolver_Unrecognized(t *testing.T) {
	var calls int32
	resolver := newStubResolver(&calls, failOnRequest(t))

	inputs := []string{
		"",
		"hello world",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.bilibili.com/bangumi/play/ep1234",
		"https://www.bilibili.com/video/av170001",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := resolver.Resolve(context.Background(), input)
			if !errors.Is(err, ErrUnrecognizedLink) {
				t.Fatalf("Resolve() error = %v, want ErrUnrecognizedLink", err)
			}
			var resolveErr *ResolveError
			if !errors.As(err, &resolveErr) {
				t.Fatalf("Resolve() error is not a *ResolveError")
			}
			if resolveErr.Input != input {
				t.Errorf("ResolveError.Input = %q, want %q", resolveErr.Input, input)
			}
		})
	}

	if calls != 0 {
		t.Errorf("unrecognized links made %d requests, want 0", calls)
	}
}

func TestResolver_ShortLinkRedirect(t *testing.T) {
	var calls int32
	resolver := newStubResolver(&calls, func(req *http.Request) (*http.Response, error) {
		if req.URL.Host != "b23.tv" {
			t.Errorf("followed redirect to %s after reaching the video URL", req.URL)
		}
		if ua := req.Header.Get("User-Agent"); ua != DefaultUserAgent {
			t.Errorf("User-Agent = %q, want %q", ua, DefaultUserAgent)
		}
		return redirectTo(req, "https://www.bilibili.com/video/BV1ab411c7XY?share_medium=android"), nil
	})

	id, err := resolver.Resolve(context.Background(), "https://b23.tv/abc123")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id != "BV1ab411c7XY" {
		t.Errorf("Resolve() = %q, want %q", id, "BV1ab411c7XY")
	}
	if calls != 1 {
		t.Errorf("short link made %d requests, want 1", calls)
	}
}

func TestResolver_ShortLinkWithoutScheme(t *testing.T) {
	var calls int32
	resolver := newStubResolver(&calls, func(req *http.Request) (*http.Response, error) {
		if req.URL.Scheme != "https" {
			t.Errorf("scheme = %q, want https", req.URL.Scheme)
		}
		return redirectTo(req, "https://m.bilibili.com/video/BV1mobile"), nil
	})

	id, err := resolver.Resolve(context.Background(), "b23.tv/abc123")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id != "BV1mobile" {
		t.Errorf("Resolve() = %q, want %q", id, "BV1mobile")
	}
}

func TestResolver_ShortLinkMultipleHops(t *testing.T) {
	var calls int32
	resolver := newStubResolver(&calls, func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/abc123":
			return redirectTo(req, "/hop"), nil
		case "/hop":
			return redirectTo(req, "https://www.bilibili.com/video/BV1hop"), nil
		default:
			t.Errorf("unexpected request to %s", req.URL)
			return newResponse(req, http.StatusNotFound, nil, ""), nil
		}
	})

	id, err := resolver.Resolve(context.Background(), "https://b23.tv/abc123")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id != "BV1hop" {
		t.Errorf("Resolve() = %q, want %q", id, "BV1hop")
	}
	if calls != 2 {
		t.Errorf("requests = %d, want 2", calls)
	}
}

func TestResolver_ShortLinkNoIdentifier(t *testing.T) {
	var calls int32
	resolver := newStubResolver(&calls, func(req *http.Request) (*http.Response, error) {
		if req.URL.Host == "b23.tv" {
			return redirectTo(req, "https://www.bilibili.com/festival/2024bnj"), nil
		}
		return newResponse(req, http.StatusOK, http.Header{"Content-Type": []string{"text/html"}},
			"<html><head><title>拜年纪</title></head><body></body></html>"), nil
	})

	_, err := resolver.Resolve(context.Background(), "https://b23.tv/abc123")
	if !errors.Is(err, ErrNoIdentifier) {
		t.Fatalf("Resolve() error = %v, want ErrNoIdentifier", err)
	}

	var resolveErr *ResolveError
	if !errors.As(err, &resolveErr) {
		t.Fatal("Resolve() error is not a *ResolveError")
	}
	if resolveErr.FinalURL != "https://www.bilibili.com/festival/2024bnj" {
		t.Errorf("FinalURL = %q, want the festival page", resolveErr.FinalURL)
	}
	if !strings.Contains(err.Error(), "festival/2024bnj") {
		t.Errorf("error message %q does not mention the final URL", err.Error())
	}
}

func TestResolver_ShortLinkCanonicalFallback(t *testing.T) {
	tests := []struct {
		name string
		page string
		want ID
	}{
		{
			"Canonical link",
			`<html><head><link rel="canonical" href="https://www.bilibili.com/video/BV1canon"></head></html>`,
			"BV1canon",
		},
		{
			"Open Graph URL",
			`<html><head><meta property="og:url" content="https://www.bilibili.com/video/BV1og/"></head></html>`,
			"BV1og",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			resolver := newStubResolver(&calls, func(req *http.Request) (*http.Response, error) {
				if req.URL.Host == "b23.tv" {
					return redirectTo(req, "https://www.bilibili.com/blackboard/activity.html"), nil
				}
				return newResponse(req, http.StatusOK, nil, tt.page), nil
			})

			id, err := resolver.Resolve(context.Background(), "https://b23.tv/abc123")
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if id != tt.want {
				t.Errorf("Resolve() = %q, want %q", id, tt.want)
			}
		})
	}
}

func TestResolver_ShortLinkRequestFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler func(*http.Request) (*http.Response, error)
		check   func(t *testing.T, err error)
	}{
		{
			name: "Transport error",
			handler: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
		},
		{
			name: "Not found",
			handler: func(req *http.Request) (*http.Response, error) {
				return newResponse(req, http.StatusNotFound, nil, "not found"), nil
			},
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				if !errors.As(err, &statusErr) {
					t.Fatalf("error %v is not a *StatusError", err)
				}
				if statusErr.StatusCode != http.StatusNotFound {
					t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusNotFound)
				}
			},
		},
		{
			name: "Redirect loop",
			handler: func(req *http.Request) (*http.Response, error) {
				return redirectTo(req, "https://b23.tv/loop"), nil
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrTooManyRedirects) {
					t.Errorf("error %v does not wrap ErrTooManyRedirects", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			resolver := newStubResolver(&calls, tt.handler)

			_, err := resolver.Resolve(context.Background(), "https://b23.tv/abc123")
			if !errors.Is(err, ErrShortLinkRequest) {
				t.Fatalf("Resolve() error = %v, want ErrShortLinkRequest", err)
			}
			if errors.Is(err, ErrNoIdentifier) || errors.Is(err, ErrUnrecognizedLink) {
				t.Errorf("Resolve() error %v matches more than one failure kind", err)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestResolver_ShortLinkTimeout(t *testing.T) {
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	resolver := NewResolver(
		WithHTTPClient(&http.Client{Transport: transport}),
		WithTimeout(20*time.Millisecond),
	)

	start := time.Now()
	_, err := resolver.Resolve(context.Background(), "https://b23.tv/slow")
	if !errors.Is(err, ErrShortLinkRequest) {
		t.Fatalf("Resolve() error = %v, want ErrShortLinkRequest", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Resolve() took %v, timeout was not applied", elapsed)
	}
}

func TestResolver_NoMemoization(t *testing.T) {
	var calls int32
	resolver := newStubResolver(&calls, func(req *http.Request) (*http.Response, error) {
		return redirectTo(req, "https://www.bilibili.com/video/BV1again"), nil
	})

	for i := 0; i < 2; i++ {
		if _, err := resolver.Resolve(context.Background(), "https://b23.tv/abc123"); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("requests = %d, want 2", calls)
	}
}

func TestResolver_IsShortLink(t *testing.T) {
	resolver := NewResolver()

	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"b23.tv", "https://b23.tv/abc", true},
		{"Other b23 domain", "https://b23.wtf/abc", true},
		{"Video link", "https://www.bilibili.com/video/BV1", false},
		{"Unrelated", "https://example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := resolver.IsShortLink(tt.input); result != tt.expected {
				t.Errorf("IsShortLink() = %v, want %v", result, tt.expected)
			}
		})
	}

	custom := NewResolver(WithShortLinkMarkers("short.example"))
	if !custom.IsShortLink("https://short.example/x") {
		t.Error("custom marker was not honored")
	}
	if custom.IsShortLink("https://b23.tv/x") {
		t.Error("default markers should be replaced")
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"BV1xx411c7mD", false},
		{"BV1", false},
		{"BV", true},
		{"av170001", true},
		{"BV1xx411c7mD/", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			id, err := ParseID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidID) {
				t.Errorf("ParseID() error = %v, want ErrInvalidID", err)
			}
			if err == nil && id.String() != tt.input {
				t.Errorf("ParseID() = %q, want %q", id, tt.input)
			}
		})
	}
}

func TestID_PageURL(t *testing.T) {
	id := ID("BV1xx411c7mD")
	want := "https://www.bilibili.com/video/BV1xx411c7mD"
	if got := id.PageURL(); got != want {
		t.Errorf("PageURL() = %q, want %q", got, want)
	}
	if back, ok := MatchVideoURL(id.PageURL()); !ok || back != id {
		t.Errorf("MatchVideoURL(PageURL()) = %q, %v", back, ok)
	}
}
