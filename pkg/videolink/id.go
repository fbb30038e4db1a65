// Package videolink turns Bilibili video links, including b23.tv short
// links, into canonical BV identifiers.
package videolink

import (
	"errors"
	"fmt"
	"regexp"
)

const (
	// VideoPageBase is the canonical video page prefix.
	VideoPageBase = "https://www.bilibili.com/video/"
)

var (
	// ErrInvalidID is returned by ParseID for strings that are not BV identifiers.
	ErrInvalidID = errors.New("invalid video identifier")

	idRegex = regexp.MustCompile(`^BV[a-zA-Z0-9]+$`)
)

// ID is a canonical video identifier such as "BV1xx411c7mD".
// Values obtained from Resolve or ParseID always satisfy the BV grammar.
type ID string

// ParseID validates s against the identifier grammar.
func ParseID(s string) (ID, error) {
	if !idRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID(s), nil
}

func (id ID) String() string {
	return string(id)
}

// PageURL returns the canonical video page, which also serves as the
// Referer expected by the platform's API and CDN.
func (id ID) PageURL() string {
	return VideoPageBase + string(id)
}
