package core

import (
	"context"
	"errors"
	"net"

	"bilimusic/pkg/videolink"
)

// ErrorKind groups failures by what the user can do about them.
type ErrorKind string

const (
	KindInput      ErrorKind = "input"
	KindResolution ErrorKind = "resolution"
	KindTransport  ErrorKind = "transport"
	KindUpstream   ErrorKind = "upstream"
	KindTool       ErrorKind = "tool"
	KindBusy       ErrorKind = "busy"
	KindInternal   ErrorKind = "internal"
)

var (
	ErrBusy                = errors.New("another conversion is in progress")
	ErrNoPreview           = errors.New("no video has been resolved")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	ErrStreamUnavailable   = errors.New("audio stream unavailable")
	ErrDownloadFailed      = errors.New("download failed")
	ErrMuxFailed           = errors.New("muxing failed")
	ErrToolMissing         = errors.New("external tool not found")
)

// Classify maps a pipeline error to its kind. A failed short link request
// is a resolution failure whatever its cause. Elsewhere transport problems
// win over the stage that hit them, so a timeout while fetching metadata is
// reported as a transport failure.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, videolink.ErrUnrecognizedLink),
		errors.Is(err, videolink.ErrInvalidID),
		errors.Is(err, ErrNoPreview),
		errors.Is(err, ErrInvalidRequest):
		return KindInput
	case errors.Is(err, videolink.ErrNoIdentifier),
		errors.Is(err, videolink.ErrShortLinkRequest):
		return KindResolution
	case errors.Is(err, ErrMuxFailed), errors.Is(err, ErrToolMissing):
		return KindTool
	case isTransportError(err):
		return KindTransport
	case errors.Is(err, ErrMetadataUnavailable),
		errors.Is(err, ErrStreamUnavailable),
		errors.Is(err, ErrDownloadFailed):
		return KindUpstream
	default:
		return KindInternal
	}
}

// isTransportError reports network errors and timeouts. *url.Error
// implements net.Error, so any failed client round trip qualifies.
func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
