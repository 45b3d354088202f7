// Package apierr defines the closed error taxonomy shared by the request
// pipeline and the streaming client.
package apierr

// Kind classifies a failure for retry decisions and user-facing messaging.
// The set is closed; switch statements over Kind are expected to be exhaustive.
type Kind int

const (
	KindUnauthorized Kind = iota + 1
	KindNotFound
	KindServerError
	KindRateLimited
	KindNetworkUnavailable
	KindTimeout
	KindDecodeFailed
	KindEncodeFailed
	KindInvalidRequest
	KindCancelled
)

// String returns the stable identifier used in logs and attempt records.
func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindServerError:
		return "server_error"
	case KindRateLimited:
		return "rate_limited"
	case KindNetworkUnavailable:
		return "network_unavailable"
	case KindTimeout:
		return "timeout"
	case KindDecodeFailed:
		return "decode_failed"
	case KindEncodeFailed:
		return "encode_failed"
	case KindInvalidRequest:
		return "invalid_request"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Message is the human-readable text the presentation layer shows for k.
// Each kind maps to distinct text.
func (k Kind) Message() string {
	switch k {
	case KindUnauthorized:
		return "Your session expired. Please sign in again."
	case KindNotFound:
		return "We couldn't find what you were looking for."
	case KindServerError:
		return "Something went wrong on our end. Please try again."
	case KindRateLimited:
		return "Too many requests. Try again shortly."
	case KindNetworkUnavailable:
		return "No connection. Check your network and try again."
	case KindTimeout:
		return "The request timed out."
	case KindDecodeFailed:
		return "We received an unexpected response."
	case KindEncodeFailed:
		return "We couldn't prepare your request."
	case KindInvalidRequest:
		return "The request was invalid."
	case KindCancelled:
		return "The request was cancelled."
	default:
		return "An unknown error occurred."
	}
}
