package api //nolint:revive // package name is intentional

const (
	// DefaultMaxUploadBytes is the default limit for form and multipart bodies (10MB).
	DefaultMaxUploadBytes = 10 * 1024 * 1024

	// HeaderVariant echoes the experiment variant that served the request.
	HeaderVariant = "X-Experiment-Variant"

	// WelcomeMessage is returned by GET /.
	WelcomeMessage = "Welcome to GenAI System Design API"
)
