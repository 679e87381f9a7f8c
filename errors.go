package vecmatch

import "errors"

// Exported errors for library consumers.
var (
	// ErrNoEmbedder indicates loading was requested without an embedding endpoint.
	ErrNoEmbedder = errors.New("vecmatch: no embedding endpoint configured")

	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("vecmatch: client is closed")
)
