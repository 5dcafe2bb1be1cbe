package media

import "errors"

var (
	// ErrUnsupportedImageType indicates the content-type is not an accepted image format.
	ErrUnsupportedImageType = errors.New("unsupported image type")
	// ErrImageTooLarge indicates the payload exceeds the configured max image size.
	ErrImageTooLarge = errors.New("image too large")
	// ErrGIFDecode indicates a GIF payload could not be decoded for re-encoding.
	ErrGIFDecode = errors.New("gif decode failed")
	// ErrFetchFailed indicates the image could not be downloaded.
	ErrFetchFailed = errors.New("image fetch failed")
)
