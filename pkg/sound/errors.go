package sound

import "errors"

var (
	// ErrDisposed is returned when playing a sound that was disposed.
	ErrDisposed = errors.New("sound: disposed")

	// ErrUnsupportedFormat is returned for audio that is neither WAV nor MP3.
	ErrUnsupportedFormat = errors.New("sound: unsupported format")

	// ErrClosed is returned by Add on a closed manager.
	ErrClosed = errors.New("sound: manager closed")
)
