// Package title derives music titles and file names from video titles.
package title

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Untitled is used when nothing is left of a name after sanitizing.
const Untitled = "untitled"

var (
	bookTitleRegex  = regexp.MustCompile(`(?s)《(.*?)》`)
	unsafeCharRegex = regexp.MustCompile(`[\\/*?:"<>|]`)
)

// MusicTitle returns the content of the first 《…》 pair in a video title.
// Music uploads conventionally quote the song name that way.
func MusicTitle(videoTitle string) (string, bool) {
	matches := bookTitleRegex.FindStringSubmatch(videoTitle)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}

// Suggest returns the default music title for a video: the quoted song
// name when present and non-empty, otherwise the full video title.
func Suggest(videoTitle string) string {
	if musicTitle, ok := MusicTitle(videoTitle); ok && musicTitle != "" {
		return musicTitle
	}
	return videoTitle
}

// HasQuotedTitle reports whether Suggest would pick a quoted song name.
func HasQuotedTitle(videoTitle string) bool {
	musicTitle, ok := MusicTitle(videoTitle)
	return ok && musicTitle != ""
}

// SafeFilename makes name usable as a file name on common file systems:
// path and wildcard characters are removed, surrounding whitespace is
// trimmed and inner spaces become underscores.
func SafeFilename(name string) string {
	name = norm.NFC.String(name)
	name = unsafeCharRegex.ReplaceAllString(name, "")
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	if name == "" {
		return Untitled
	}
	return name
}

// CleanTag normalizes a metadata value before it is written into the file.
func CleanTag(value string) string {
	return strings.TrimSpace(norm.NFC.String(value))
}
