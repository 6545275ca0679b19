package registry

import "errors"

var (
	// ErrProtocol means the registry answered in a shape this package does not
	// understand, retrying will not help.
	ErrProtocol     = errors.New("registry: protocol error")
	ErrCsrfNotFound = errors.New("csrf token not found")

	ErrCaptchaSolve    = errors.New("registry: captcha solve failed")
	ErrSessionNotReady = errors.New("registry: session not ready")

	ErrCsrfMismatch    = errors.New("registry: csrf token mismatch")
	ErrCaptchaRejected = errors.New("registry: captcha rejected")
	ErrTransport       = errors.New("registry: transport error")

	ErrExhausted = errors.New("registry: retries exhausted")
)
