package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bilimusic/pkg/fuzzy"
	"bilimusic/pkg/text"
	"bilimusic/pkg/title"
	"bilimusic/pkg/videolink"
)

// Pipeline runs link → identifier → metadata → audio file, one run at a
// time. It also remembers the last previewed video so the user can edit
// the tags before converting.
type Pipeline struct {
	config     *Config
	resolver   LinkResolver
	metadata   MetadataFetcher
	downloader Downloader
	muxer      Muxer
	covers     CoverCache
	suggester  TrackSuggester
	observer   StageObserver
	normalizer *fuzzy.Normalizer
	logger     *zap.Logger

	runMutex     sync.Mutex
	sessionMutex sync.RWMutex
	session      *Preview
}

func NewPipeline(
	config *Config,
	resolver LinkResolver,
	metadata MetadataFetcher,
	downloader Downloader,
	muxer Muxer,
	covers CoverCache,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		config:     config,
		resolver:   resolver,
		metadata:   metadata,
		downloader: downloader,
		muxer:      muxer,
		covers:     covers,
		normalizer: fuzzy.NewNormalizer(),
		logger:     logger,
	}
}

// SetSuggester enables track suggestions for titles without a quoted song name.
func (p *Pipeline) SetSuggester(suggester TrackSuggester) {
	p.suggester = suggester
}

func (p *Pipeline) SetObserver(observer StageObserver) {
	p.observer = observer
}

// Preview resolves the link found in rawText and loads the video's
// metadata and cover. Previewing the video that is already loaded costs
// only the resolution step.
func (p *Pipeline) Preview(ctx context.Context, rawText string) (*Preview, error) {
	if !p.runMutex.TryLock() {
		return nil, ErrBusy
	}
	defer p.runMutex.Unlock()

	link := text.ExtractLink(strings.TrimSpace(rawText))

	var id videolink.ID
	err := p.stage(StageResolve, func() error {
		var resolveErr error
		id, resolveErr = p.resolver.Resolve(ctx, link)
		return resolveErr
	})
	if err != nil {
		p.clearSession()
		return nil, err
	}

	p.logger.Info("Resolved video identifier",
		zap.String("link", link),
		zap.String("bvid", id.String()))

	if current, ok := p.Current(); ok && current.Video.ID == id {
		if current.CoverPath == "" {
			current.CoverPath = p.retryPreviewCover(ctx, &current.Video)
		}
		return current, nil
	}

	// A different video invalidates the loaded preview and its cover, even
	// if loading the new one fails below.
	p.clearSession()
	p.covers.Purge()

	var info *VideoInfo
	err = p.stage(StageMetadata, func() error {
		var viewErr error
		info, viewErr = p.metadata.View(ctx, id)
		return viewErr
	})
	if err != nil {
		p.clearSession()
		return nil, err
	}

	preview := &Preview{
		Video: *info,
		Track: p.suggestTrack(ctx, info),
	}
	preview.CoverPath = p.fetchPreviewCover(ctx, info)

	p.sessionMutex.Lock()
	p.session = preview
	p.sessionMutex.Unlock()

	result := *preview
	return &result, nil
}

// Current returns a copy of the loaded preview.
func (p *Pipeline) Current() (*Preview, bool) {
	p.sessionMutex.RLock()
	defer p.sessionMutex.RUnlock()

	if p.session == nil {
		return nil, false
	}
	result := *p.session
	return &result, true
}

// UpdateTrack replaces the tags of the loaded preview.
func (p *Pipeline) UpdateTrack(track Track) error {
	p.sessionMutex.Lock()
	defer p.sessionMutex.Unlock()

	if p.session == nil {
		return ErrNoPreview
	}
	p.session.Track = track
	return nil
}

// Convert downloads the previewed video's audio, muxes it with the cover
// and the tags into one file, and returns where it was written. Temporary
// files live in a per-run directory under the scratch directory that is
// removed before Convert returns; the preview cover is kept for the next run.
func (p *Pipeline) Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	if !p.runMutex.TryLock() {
		return nil, ErrBusy
	}
	defer p.runMutex.Unlock()

	if req.Track != nil {
		if err := p.UpdateTrack(*req.Track); err != nil {
			return nil, err
		}
	}

	preview, ok := p.Current()
	if !ok {
		return nil, ErrNoPreview
	}

	id := preview.Video.ID
	track := Track{
		Title:  title.CleanTag(preview.Track.Title),
		Artist: title.CleanTag(preview.Track.Artist),
	}
	format := p.outputFormat()

	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = p.config.Media.OutputDir
	}
	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	scratchDir := p.config.Media.ScratchDir()
	if err := os.MkdirAll(scratchDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	runID := newRunID()
	runDir, err := os.MkdirTemp(scratchDir, "bilimusic_run_")
	if err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	safeName := title.SafeFilename(track.Title)
	audioPath := filepath.Join(runDir, "temp_audio.m4a")
	outputPath := filepath.Join(outputDir, safeName+"_"+runID+"."+format)

	succeeded := false
	defer func() {
		if !succeeded {
			p.removeFile(outputPath)
		}
		if err := os.RemoveAll(runDir); err != nil {
			p.logger.Warn("Failed to remove run directory",
				zap.String("path", runDir),
				zap.Error(err))
		}
	}()

	p.logger.Info("Starting conversion",
		zap.String("bvid", id.String()),
		zap.String("title", track.Title),
		zap.String("artist", track.Artist),
		zap.String("format", format))

	cid := preview.Video.CID
	if cid == 0 {
		err := p.stage(StageMetadata, func() error {
			info, viewErr := p.metadata.View(ctx, id)
			if viewErr != nil {
				return viewErr
			}
			cid = info.CID
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var audioURL string
	err = p.stage(StageStream, func() error {
		var streamErr error
		audioURL, streamErr = p.metadata.AudioURL(ctx, id, cid)
		return streamErr
	})
	if err != nil {
		return nil, err
	}

	header := p.metadata.RequestHeaders(id)

	err = p.stage(StageDownloadAudio, func() error {
		size, downloadErr := p.downloader.Download(ctx, audioURL, audioPath, header)
		if downloadErr == nil {
			p.logger.Debug("Audio downloaded", zap.Int64("bytes", size))
		}
		return downloadErr
	})
	if err != nil {
		return nil, err
	}

	coverPath, cached := p.covers.Get(string(id))
	if !cached {
		coverPath = filepath.Join(runDir, "temp_cover.jpg")
		err = p.stage(StageDownloadCover, func() error {
			_, downloadErr := p.downloader.Download(ctx, preview.Video.CoverURL, coverPath, header)
			return downloadErr
		})
		if err != nil {
			return nil, err
		}
	}

	err = p.stage(StageMux, func() error {
		return p.muxer.Mux(ctx, MuxRequest{
			AudioPath:  audioPath,
			CoverPath:  coverPath,
			OutputPath: outputPath,
			Title:      track.Title,
			Artist:     track.Artist,
			Format:     format,
		})
	})
	if err != nil {
		return nil, err
	}

	fileName := safeName + "." + format
	finalPath := outputPath
	if !req.UniqueName {
		finalPath = filepath.Join(outputDir, fileName)
		if err := os.Rename(outputPath, finalPath); err != nil {
			return nil, fmt.Errorf("failed to move output into place: %w", err)
		}
	}

	stat, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("output file missing after mux: %w", err)
	}
	succeeded = true

	p.logger.Info("Conversion finished",
		zap.String("bvid", id.String()),
		zap.String("path", finalPath),
		zap.Int64("bytes", stat.Size()))

	return &ConvertResult{
		ID:       id,
		Path:     finalPath,
		FileName: fileName,
		Size:     stat.Size(),
		Format:   format,
	}, nil
}

func (p *Pipeline) suggestTrack(ctx context.Context, info *VideoInfo) Track {
	track := Track{
		Title:  title.Suggest(info.Title),
		Artist: info.Author,
	}
	if p.suggester == nil || title.HasQuotedTitle(info.Title) {
		return track
	}

	if timeout := p.config.LLM.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var suggested *Track
	err := p.stage(StageSuggest, func() error {
		var suggestErr error
		suggested, suggestErr = p.suggester.SuggestTrack(ctx, info.Title, info.Author)
		return suggestErr
	})
	if err != nil {
		p.logger.Warn("Track suggestion failed, using video title",
			zap.String("bvid", info.ID.String()),
			zap.Error(err))
		return track
	}

	suggestedTitle := title.CleanTag(suggested.Title)
	switch {
	case suggestedTitle == "":
	case !p.normalizer.Grounded(suggestedTitle, info.Title):
		p.logger.Info("Ignoring suggested title not found in video title",
			zap.String("bvid", info.ID.String()),
			zap.String("suggested", suggestedTitle))
	default:
		track.Title = suggestedTitle
	}
	// The uploader stays the artist; for covers it is the performer.
	if track.Artist == "" {
		track.Artist = title.CleanTag(suggested.Artist)
	}
	return track
}

func (p *Pipeline) fetchPreviewCover(ctx context.Context, info *VideoInfo) string {
	if info.CoverURL == "" {
		return ""
	}

	var coverPath string
	err := p.stage(StagePreviewCover, func() error {
		var fetchErr error
		coverPath, fetchErr = p.covers.GetOrFetch(ctx, string(info.ID), func(ctx context.Context, dst string) error {
			_, downloadErr := p.downloader.Download(ctx, info.CoverURL, dst, p.metadata.RequestHeaders(info.ID))
			return downloadErr
		})
		return fetchErr
	})
	if err != nil {
		p.logger.Warn("Failed to download preview cover",
			zap.String("bvid", info.ID.String()),
			zap.Error(err))
		return ""
	}
	return coverPath
}

// retryPreviewCover fetches a cover that failed on an earlier preview of the
// same video and records it in the session.
func (p *Pipeline) retryPreviewCover(ctx context.Context, info *VideoInfo) string {
	coverPath := p.fetchPreviewCover(ctx, info)
	if coverPath == "" {
		return ""
	}

	p.sessionMutex.Lock()
	if p.session != nil && p.session.Video.ID == info.ID {
		p.session.CoverPath = coverPath
	}
	p.sessionMutex.Unlock()
	return coverPath
}

func (p *Pipeline) outputFormat() string {
	switch p.config.Media.Format {
	case FormatM4A:
		return FormatM4A
	default:
		return FormatMP3
	}
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if p.observer != nil {
		p.observer.ObserveStage(name, time.Since(start), err)
	}
	if err != nil {
		p.logger.Debug("Pipeline stage failed",
			zap.String("stage", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	}
	return err
}

func (p *Pipeline) clearSession() {
	p.sessionMutex.Lock()
	p.session = nil
	p.sessionMutex.Unlock()
}

func (p *Pipeline) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("Failed to remove temporary file",
			zap.String("path", path),
			zap.Error(err))
	}
}

func newRunID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
