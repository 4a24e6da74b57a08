// Package protocol defines the wire-level types shared by every frontend:
// the chat-protocol adapter, the terminal REPL, and the HTTP/JSON API all
// speak EvalContext in and EvalResponse out.
package protocol

import "time"

// EvalContext is immutable per request. It is created by a frontend,
// consumed once by the service, and discarded.
type EvalContext struct {
	User    string
	Origin  string
	Channel string
	IsAdmin bool
}

// ChannelOrDefault returns ctx.Channel, defaulting to "default" when unset.
func (ctx EvalContext) ChannelOrDefault() string {
	if ctx.Channel == "" {
		return "default"
	}
	return ctx.Channel
}

// RevisionDescriptor describes one committed change set in the revision log.
type RevisionDescriptor struct {
	ID            string    `json:"id"`
	Author        string    `json:"author"`
	Message       string    `json:"message"`
	FilesChanged  int       `json:"filesChanged"`
	Insertions    int       `json:"insertions"`
	Deletions     int       `json:"deletions"`
	Time          time.Time `json:"time,omitempty"`
}

// ShortID returns the first 8 hex characters of the revision id.
func (r RevisionDescriptor) ShortID() string {
	if len(r.ID) <= 8 {
		return r.ID
	}
	return r.ID[:8]
}

// EvalResult is the raw reply produced by the worker for one EvalRequest.
type EvalResult struct {
	Output   string
	IsError  bool
	Revision *RevisionDescriptor
}

// EvalResponse is the paginated, frontend-facing reply produced by the
// service façade.
type EvalResponse struct {
	Lines         []string             `json:"lines"`
	MoreAvailable bool                 `json:"moreAvailable"`
	IsError       bool                 `json:"isError"`
	Revision      *RevisionDescriptor  `json:"revision,omitempty"`
}

// ErrorPrefix is prepended to every user-visible error line so frontends can
// recognize an error without parsing structure.
const ErrorPrefix = "error: "
