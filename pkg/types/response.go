// Package types holds the wire envelopes shared by controllers and clients.
package types

// SuccessEnvelope wraps every 2xx payload, including webhook acks where
// Data is null.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
