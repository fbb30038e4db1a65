package core

import (
	"context"
	"net/http"
	"time"

	"bilimusic/pkg/videolink"
)

// VideoInfo is the metadata needed to build one audio file.
type VideoInfo struct {
	ID       videolink.ID
	Title    string
	Author   string
	CoverURL string
	CID      int64
}

// Track holds the tags written into the output file. Both fields are
// user-editable before conversion.
type Track struct {
	Title  string
	Artist string
}

// Preview is the state shown to the user between resolving a link and
// converting it.
type Preview struct {
	Video     VideoInfo
	Track     Track
	CoverPath string // local copy of the cover, empty if it could not be fetched
}

type MuxRequest struct {
	AudioPath  string
	CoverPath  string
	OutputPath string
	Title      string
	Artist     string
	Format     string
}

type ConvertRequest struct {
	// Track overrides the preview's tags when set.
	Track *Track
	// OutputDir receives the finished file.
	OutputDir string
	// UniqueName keeps the run-unique file name instead of renaming the
	// output to its final "<title>.<ext>" name.
	UniqueName bool
}

type ConvertResult struct {
	ID       videolink.ID
	Path     string
	FileName string // name to present to the user
	Size     int64
	Format   string
}

type LinkResolver interface {
	Resolve(ctx context.Context, link string) (videolink.ID, error)
}

type MetadataFetcher interface {
	View(ctx context.Context, id videolink.ID) (*VideoInfo, error)
	AudioURL(ctx context.Context, id videolink.ID, cid int64) (string, error)
	// RequestHeaders returns the headers the platform's CDN expects for id.
	RequestHeaders(id videolink.ID) http.Header
}

type Downloader interface {
	Download(ctx context.Context, rawURL, dst string, header http.Header) (int64, error)
}

type Muxer interface {
	Mux(ctx context.Context, req MuxRequest) error
}

// CoverCache keeps the preview cover of the most recently resolved video.
// Covers of other videos must not outlive a switch to a new video.
type CoverCache interface {
	GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context, dst string) error) (string, error)
	Get(key string) (string, bool)
	// Purge drops every cached cover and deletes its file.
	Purge()
}

// TrackSuggester guesses song title and artist from a video title.
type TrackSuggester interface {
	SuggestTrack(ctx context.Context, videoTitle, uploader string) (*Track, error)
}

// StageObserver receives the outcome of each pipeline stage.
type StageObserver interface {
	ObserveStage(stage string, duration time.Duration, err error)
}

// Pipeline stage names reported to a StageObserver.
const (
	StageResolve       = "resolve"
	StageMetadata      = "metadata"
	StageSuggest       = "suggest"
	StagePreviewCover  = "preview_cover"
	StageStream        = "stream"
	StageDownloadAudio = "download_audio"
	StageDownloadCover = "download_cover"
	StageMux           = "mux"
)
