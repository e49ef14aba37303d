package auth

// AuthenticationError reports that every configured server was exhausted
// without success, or that the overall fetch timed out.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string { return "auth: " + e.Reason }

// UnauthorizedError reports an HTTP 401 from one server; recovered locally
// by trying the next server, never surfaced to callers directly.
type UnauthorizedError struct {
	Server string
}

func (e *UnauthorizedError) Error() string { return "auth: unauthorized by " + e.Server }

// ApiError reports an HTTP 400 or 500 from one server; recovered locally.
type ApiError struct {
	Server     string
	StatusCode int
}

func (e *ApiError) Error() string { return "auth: api error from " + e.Server }

// ResponseError reports any other unexpected HTTP status from one server;
// recovered locally.
type ResponseError struct {
	Server     string
	StatusCode int
}

func (e *ResponseError) Error() string { return "auth: unexpected response from " + e.Server }
