package gateway

import "fmt"

// ConfigError means the client is misconfigured; it is returned before
// any network I/O happens.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "gateway config: " + e.Reason
}

// TransportError is an HTTP-layer failure: non-200 status or a body
// that is not JSON. The gateway's answer, if any, was not understood.
type TransportError struct {
	StatusCode  int
	ContentType string
	Body        string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway transport: status=%d content-type=%q body=%q", e.StatusCode, e.ContentType, e.Body)
}

// GatewayError is a business rejection: HTTP 200 with Success=false.
// The request reached the gateway and was understood, but refused.
type GatewayError struct {
	Code    string
	Message string
	Details string
}

func (e *GatewayError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("gateway rejected: code=%s message=%q details=%q", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("gateway rejected: code=%s message=%q", e.Code, e.Message)
}
