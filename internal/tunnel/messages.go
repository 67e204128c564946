// Package tunnel defines the JSON frames exchanged over a tunnel's
// websocket control channel.
package tunnel

import "time"

// Frame kinds.
const (
	KindReady    = "ready"
	KindRequest  = "request"
	KindResponse = "response"
	KindGoodbye  = "goodbye"
)

// Goodbye reasons.
const (
	ReasonExpired  = "expired"
	ReasonShutdown = "shutdown"
	ReasonRejected = "rejected"
)

// Frame is the envelope for every message on the control channel. Exactly
// one of the payload fields is set, selected by Kind.
type Frame struct {
	Kind     string    `json:"kind"`
	Ready    *Ready    `json:"ready,omitempty"`
	Request  *Request  `json:"request,omitempty"`
	Response *Response `json:"response,omitempty"`
	Goodbye  *Goodbye  `json:"goodbye,omitempty"`
}

// Ready is sent by the server once a session is registered. The client
// prints PublicURL and ExpiresAt; SessionToken authorizes inspection API
// calls scoped to this subdomain.
type Ready struct {
	Subdomain    string    `json:"subdomain"`
	PublicURL    string    `json:"public_url"`
	ExpiresAt    time.Time `json:"expires_at"`
	SessionToken string    `json:"session_token,omitempty"`
}

// Request is a proxied HTTP request. ID correlates the eventual Response.
type Request struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// Response carries the local service's answer back through the tunnel.
type Response struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// Goodbye tells the client the session is over and why.
type Goodbye struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// ReadyFrame builds a ready frame.
func ReadyFrame(r Ready) Frame {
	return Frame{Kind: KindReady, Ready: &r}
}

// RequestFrame builds a request frame.
func RequestFrame(r Request) Frame {
	return Frame{Kind: KindRequest, Request: &r}
}

// ResponseFrame builds a response frame.
func ResponseFrame(r Response) Frame {
	return Frame{Kind: KindResponse, Response: &r}
}

// GoodbyeFrame builds a goodbye frame.
func GoodbyeFrame(reason, message string) Frame {
	return Frame{Kind: KindGoodbye, Goodbye: &Goodbye{Reason: reason, Message: message}}
}
