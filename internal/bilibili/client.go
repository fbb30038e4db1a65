// Package bilibili talks to the Bilibili web API for video metadata and
// audio stream locations.
package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"bilimusic/internal/core"
	"bilimusic/pkg/videolink"
)

const (
	// DefaultAPIBaseURL is the public API host.
	DefaultAPIBaseURL = "https://api.bilibili.com"
	// Origin is sent with every API and CDN request.
	Origin = "https://www.bilibili.com"

	viewPath    = "/x/web-interface/view"
	playURLPath = "/x/player/playurl"
	// dashFormat asks playurl for separate DASH audio and video streams.
	dashFormat = "16"

	defaultAPITimeout = 10 * time.Second
	// maxAPIResponseSize caps how much of an API response is decoded.
	maxAPIResponseSize = 4 << 20
)

var (
	// ErrMalformedResponse means the API answered code 0 without the fields we need.
	ErrMalformedResponse = errors.New("malformed API response")
)

// APIError is a non-zero code in an API envelope.
type APIError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned code %d: %s", e.Endpoint, e.Code, e.Message)
}

// HTTPStatusError is a non-2xx HTTP status from the API.
type HTTPStatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Endpoint, e.StatusCode)
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type viewData struct {
	BVID  string `json:"bvid"`
	Title string `json:"title"`
	Pic   string `json:"pic"`
	CID   int64  `json:"cid"`
	Owner struct {
		MID  int64  `json:"mid"`
		Name string `json:"name"`
	} `json:"owner"`
	Pages []struct {
		CID  int64  `json:"cid"`
		Page int    `json:"page"`
		Part string `json:"part"`
	} `json:"pages"`
}

type dashStream struct {
	ID        int      `json:"id"`
	BaseURL   string   `json:"baseUrl"`
	BaseURL2  string   `json:"base_url"`
	BackupURL []string `json:"backupUrl"`
	Bandwidth int64    `json:"bandwidth"`
	MimeType  string   `json:"mimeType"`
}

type playURLData struct {
	Dash *struct {
		Audio []dashStream `json:"audio"`
	} `json:"dash"`
}

type Client struct {
	config     *core.BilibiliConfig
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

func NewClient(config *core.BilibiliConfig, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(config.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}

	timeout := config.APITimeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = videolink.DefaultUserAgent
	}

	return &Client{
		config:     config,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		userAgent:  userAgent,
	}
}

// RequestHeaders returns the headers the API and CDN expect for requests
// made on behalf of id.
func (c *Client) RequestHeaders(id videolink.ID) http.Header {
	header := http.Header{}
	header.Set("User-Agent", c.userAgent)
	header.Set("Referer", id.PageURL())
	header.Set("Origin", Origin)
	return header
}

// View fetches title, uploader, cover and the first page's content id.
func (c *Client) View(ctx context.Context, id videolink.ID) (*core.VideoInfo, error) {
	query := url.Values{}
	query.Set("bvid", id.String())

	var resp envelope[viewData]
	if err := c.getJSON(ctx, viewPath, query, id, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMetadataUnavailable, err)
	}

	data := resp.Data
	cid := data.CID
	if len(data.Pages) > 0 && data.Pages[0].CID != 0 {
		cid = data.Pages[0].CID
	}

	if data.Title == "" || data.Pic == "" || cid == 0 {
		return nil, fmt.Errorf("%w: %w: view for %s lacks title, cover or cid",
			core.ErrMetadataUnavailable, ErrMalformedResponse, id)
	}

	c.logger.Debug("Fetched video info",
		zap.String("bvid", id.String()),
		zap.String("title", data.Title),
		zap.String("owner", data.Owner.Name),
		zap.Int64("cid", cid),
		zap.Int("pages", len(data.Pages)))

	return &core.VideoInfo{
		ID:       id,
		Title:    data.Title,
		Author:   data.Owner.Name,
		CoverURL: data.Pic,
		CID:      cid,
	}, nil
}

// AudioURL returns the location of the first DASH audio stream.
func (c *Client) AudioURL(ctx context.Context, id videolink.ID, cid int64) (string, error) {
	query := url.Values{}
	query.Set("fnval", dashFormat)
	query.Set("bvid", id.String())
	query.Set("cid", strconv.FormatInt(cid, 10))

	var resp envelope[playURLData]
	if err := c.getJSON(ctx, playURLPath, query, id, &resp); err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrStreamUnavailable, err)
	}

	if resp.Data.Dash == nil || len(resp.Data.Dash.Audio) == 0 {
		return "", fmt.Errorf("%w: %w: no DASH audio for %s",
			core.ErrStreamUnavailable, ErrMalformedResponse, id)
	}

	audio := resp.Data.Dash.Audio[0]
	streamURL := firstNonEmpty(audio.BaseURL, audio.BaseURL2)
	if streamURL == "" && len(audio.BackupURL) > 0 {
		streamURL = audio.BackupURL[0]
	}
	if streamURL == "" {
		return "", fmt.Errorf("%w: %w: audio stream for %s has no URL",
			core.ErrStreamUnavailable, ErrMalformedResponse, id)
	}

	c.logger.Debug("Resolved audio stream",
		zap.String("bvid", id.String()),
		zap.Int("quality", audio.ID),
		zap.Int64("bandwidth", audio.Bandwidth))

	return streamURL, nil
}

// getJSON performs one GET against the API and decodes the envelope into
// dest. A non-zero envelope code is returned as *APIError.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, id videolink.ID, dest any) error {
	endpoint := c.baseURL + path
	reqURL := endpoint + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header = c.RequestHeaders(id)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &HTTPStatusError{Endpoint: path, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var head struct {
		Code    *int   `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if head.Code == nil {
		return fmt.Errorf("%w: missing code", ErrMalformedResponse)
	}
	if *head.Code != 0 {
		c.logger.Warn("API returned error code",
			zap.String("endpoint", path),
			zap.String("bvid", id.String()),
			zap.Int("code", *head.Code),
			zap.String("message", head.Message))
		return &APIError{Endpoint: path, Code: *head.Code, Message: head.Message}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
