package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when the inspector receives a request. Route is the
// matched pattern, such as "POST /read".
type HTTPStart struct {
	Route   string
	Request *http.Request
}

// HTTPFinish is emitted after the handler completes.
type HTTPFinish struct {
	Route    string
	Request  *http.Request
	Status   int
	Duration time.Duration
}
