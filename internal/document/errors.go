package document

import "errors"

var (
	// ErrDiscovery marks a subtree that could not be listed.
	ErrDiscovery = errors.New("discovery failed")
	// ErrFetch marks a document whose bytes could not be fetched.
	ErrFetch = errors.New("fetch failed")
	// ErrParse marks a document whose bytes could not be parsed.
	ErrParse = errors.New("parse failed")
	// ErrReasoning marks a reasoning-service call that failed after retries.
	ErrReasoning = errors.New("reasoning service failed")
	// ErrUnknownIdentity marks a reasoning reply naming an id outside the generation.
	ErrUnknownIdentity = errors.New("unknown candidate identity")
)
