package services

import "errors"

var (
	// ErrMediaUnavailable is returned when a selected track is missing from
	// the media directory.
	ErrMediaUnavailable = errors.New("media file unavailable")

	// ErrNoKeyForTrack is returned when the key table has no entry for an
	// encrypted track.
	ErrNoKeyForTrack = errors.New("no key for track")

	// ErrKeysNotUsable is returned when a simulation ends without a usable
	// key for every encrypted track.
	ErrKeysNotUsable = errors.New("keys not usable")
)
