package errs

// Error codes for the real-time subsystem. Nothing here is process-fatal:
// every failure is scoped to a single connection or delivery attempt.
const (
	CodeAuthenticationFailure = 4401 // terminal: close the connection
	CodeAuthorizationDenied   = 4403 // non-terminal: drop the action
	CodeMalformedEnvelope     = 4400 // non-terminal: ignore with log
	CodeDeliveryFailure       = 4502 // per-recipient, isolated
	CodeTransportFailure      = 4500 // terminal for that connection only
)

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) Error() string {
	if e.Detail == "" {
		return e.Msg
	}
	return e.Msg + ": " + e.Detail
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

var (
	ErrAuthenticationFailure = NewCodeError(CodeAuthenticationFailure, "authentication failure")
	ErrAuthorizationDenied   = NewCodeError(CodeAuthorizationDenied, "authorization denied")
	ErrMalformedEnvelope     = NewCodeError(CodeMalformedEnvelope, "malformed envelope")
	ErrDeliveryFailure       = NewCodeError(CodeDeliveryFailure, "delivery failure")
	ErrTransportFailure      = NewCodeError(CodeTransportFailure, "transport failure")
)
