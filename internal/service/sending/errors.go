package sending

import (
	"errors"
	"fmt"
)

// Sentinel errors for the sending service layer.
var (
	// ErrConfiguration marks failures that abort the whole run.
	ErrConfiguration = errors.New("campaign configuration error")

	// ErrNotFound is returned when the campaign, send configuration, list,
	// template or subscriber cannot be resolved. It is a configuration error.
	ErrNotFound = fmt.Errorf("%w: not found", ErrConfiguration)

	// ErrUnknownList is returned when a list is not attached to the campaign.
	ErrUnknownList = fmt.Errorf("%w: list is not part of the campaign", ErrConfiguration)

	// ErrUnknownSource is returned for a content source the renderer cannot handle.
	ErrUnknownSource = fmt.Errorf("%w: unknown content source", ErrConfiguration)

	// ErrNotInitialized is returned when Send or Preview run before Init.
	ErrNotInitialized = errors.New("campaign sender is not initialized")

	// ErrContentFetch is returned when a URL-sourced campaign body cannot
	// be fetched. No outcome is recorded for the recipient.
	ErrContentFetch = errors.New("campaign content fetch failed")

	// ErrPersistence is returned when the outcome record cannot be written.
	// The attempt is then unaccounted for and must not be swallowed.
	ErrPersistence = errors.New("outcome record failed")
)
