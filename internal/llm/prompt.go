package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bilimusic/internal/core"
)

var (
	// ErrNotConfigured is returned when no LLM provider is set up.
	ErrNotConfigured = errors.New("LLM provider not configured")
	// ErrNoSong means the model could not name a song for the video.
	ErrNoSong = errors.New("no song information found")
)

// SongExtractResponse is the JSON object every provider is asked to return.
type SongExtractResponse struct {
	Found  bool   `json:"found"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Reason string `json:"reason,omitempty"`
}

const (
	defaultTemperature  = 0.1
	maxTokensExtraction = 300
)

const extractSongPrompt = `You are a music expert helping to name the song performed in a Bilibili video.

You get the video title and the uploader name. Video titles often wrap the song
in decorations such as 【翻唱】, 【MV】, cover notes, episode numbers or emoji.

Respond with a JSON object in this exact format:
{
  "found": true/false,
  "title": "Song Title",
  "artist": "Original Artist",
  "reason": "Explanation of why song was/wasn't found"
}

Rules:
1. Set "found" to true only if the title names a specific song
2. "title" is the bare song name without decorations
3. "artist" is the original performer if you know it, otherwise leave it empty
4. Keep the song name in the language it appears in the video title
5. If found=false, include a brief reason in the "reason" field

Examples of when to set found=true:
- "【翻唱】晴天 - 周杰伦 | 吉他弹唱" -> 晴天 / 周杰伦
- "Bohemian Rhapsody (Live Aid 1985) 4K" -> Bohemian Rhapsody / Queen

Examples of when to set found=false:
- "我的日常vlog #12"
- "【合集】2023年度热歌"`

func buildUserPrompt(videoTitle, uploader string) string {
	return fmt.Sprintf("Video title: %q\nUploader: %q", videoTitle, uploader)
}

// parseSongExtractResponse decodes a model reply. Replies wrapped in a
// markdown code fence are accepted.
func parseSongExtractResponse(content string) (*core.Track, error) {
	content = stripCodeFence(content)

	var response SongExtractResponse
	if err := json.Unmarshal([]byte(content), &response); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response: %w", err)
	}

	title := strings.TrimSpace(response.Title)
	if !response.Found || title == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoSong, response.Reason)
	}

	return &core.Track{
		Title:  title,
		Artist: strings.TrimSpace(response.Artist),
	}, nil
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if newline := strings.IndexByte(content, '\n'); newline >= 0 {
		content = content[newline+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(content), "```"))
}
