package calsync

import "fmt"

// FeedFetchError covers transport failures, timeouts and non-2xx responses.
type FeedFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FeedFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch feed %s: http %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch feed %s: %v", e.URL, e.Err)
}

func (e *FeedFetchError) Unwrap() error { return e.Err }

// FeedParseError means the body was fetched but is not a usable calendar.
type FeedParseError struct {
	Reason string
	Err    error
}

func (e *FeedParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse feed: %s: %v", e.Reason, e.Err)
	}
	return "parse feed: " + e.Reason
}

func (e *FeedParseError) Unwrap() error { return e.Err }
