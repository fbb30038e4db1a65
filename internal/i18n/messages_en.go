package i18n

// englishMessages contains all English translations.
var englishMessages = map[string]string{
	// Error messages
	"error.input":           "Couldn't find a video ID. Please check the link.",
	"error.no_preview":      "Enter a video link first.",
	"error.invalid_request": "Malformed request.",
	"error.resolution":      "No video ID found after redirects: %s",
	"error.short_link":      "Short link request failed: %s",
	"error.transport":       "Network request failed, please try again later: %s",
	"error.upstream":        "Bilibili returned an error: %s",
	"error.tool":            "FFmpeg conversion failed:\n%s",
	"error.busy":            "Still working on the previous request. Please wait.",
	"error.flood":           "Too many requests. Please slow down.",
	"error.internal":        "Something went wrong: %s",

	// Page
	"ui.title":            "Bilimusic+",
	"ui.tagline":          "Lightweight Bilibili audio extractor · personal use only, respect copyright",
	"ui.input_header":     "Input",
	"ui.link_label":       "Video link",
	"ui.link_placeholder": "Standard link / b23.tv / share text with title",
	"ui.resolve_button":   "Resolve",
	"ui.resolving":        "Fetching video info...",
	"ui.resolved":         "Resolved ID: %s",
	"ui.cover_header":     "Cover preview",
	"ui.title_label":      "Song title",
	"ui.artist_label":     "Artist",
	"ui.current_video":    "Current video: %s  |  Uploader: %s",
	"ui.convert_button":   "Download and convert",
	"ui.converting":       "Downloading audio (may be slow)...",
	"ui.converted":        "Done!",
	"ui.download_button":  "Download %s",
	"ui.empty_hint":       "👈 Enter a video link to get started",

	// Command line
	"cli.resolved":   "Resolved ID: %s",
	"cli.video":      "Current video: %s  |  Uploader: %s",
	"cli.converting": "Writing %s with metadata...",
	"cli.saved":      "Done! Saved to %s (%d bytes)",
}
