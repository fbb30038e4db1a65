// Package text pulls share links out of free-form pasted text.
package text

import (
	"regexp"
)

// linkRegex matches an http(s) link up to the first whitespace or CJK
// ideograph. Share texts copied from the mobile app glue the link directly
// to the Chinese video title, so ideographs terminate the link.
var linkRegex = regexp.MustCompile(`https?://[^\s\x{4e00}-\x{9fa5}]+`)

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ExtractLinks returns every link found in text, in order of appearance.
func (p *Parser) ExtractLinks(text string) []string {
	return linkRegex.FindAllString(text, -1)
}

// ExtractLink returns the last link found in text. When text holds no link
// it is returned unchanged so that a bare "b23.tv/xyz" or
// "www.bilibili.com/video/BV..." still reaches the resolver.
func (p *Parser) ExtractLink(text string) string {
	links := p.ExtractLinks(text)
	if len(links) == 0 {
		return text
	}
	return links[len(links)-1]
}

// ExtractLink is a convenience wrapper around Parser.ExtractLink.
func ExtractLink(text string) string {
	return NewParser().ExtractLink(text)
}
