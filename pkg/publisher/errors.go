package publisher

import "errors"

var (
	// ErrPublishIntegrity is returned when the mirrored copy does not hash to the uploaded payload.
	// The previous snapshot stays authoritative.
	ErrPublishIntegrity = errors.New("publish integrity check failed")
	// ErrRetirement marks a failed removal of the previous object. It is never fatal.
	ErrRetirement = errors.New("retirement of previous object failed")
	// ErrPublishFailed is returned when no durable copy could be written.
	ErrPublishFailed = errors.New("publish failed")
	// ErrNoPointer is returned by Latest before anything has been published.
	ErrNoPointer = errors.New("no published pointer")
)
