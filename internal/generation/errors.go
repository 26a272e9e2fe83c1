package generation

import "errors"

var (
	ErrContentBlocked = errors.New("content blocked by safety filters")
	ErrEmptyResponse  = errors.New("empty response from model")
	ErrNoImage        = errors.New("model returned no image")
	ErrMissingAPIKey  = errors.New("gemini api key is required")
	ErrNoArtifactPath = errors.New("image job has no artifact path")
)
