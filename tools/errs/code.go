package errs

const (
	CodeBadRequest          = 400
	CodeUnauthorized        = 401
	CodeNotFound            = 404
	CodeGone                = 410
	CodeInternal            = 500
	CodeRegistryUnavailable = 503
)

var (
	ErrBadRequest          = NewCodeError(CodeBadRequest, "bad request")
	ErrUnauthorized        = NewCodeError(CodeUnauthorized, "unauthorized")
	ErrConnectionNotFound  = NewCodeError(CodeNotFound, "connection not found")
	ErrTargetGone          = NewCodeError(CodeGone, "push target gone")
	ErrInternal            = NewCodeError(CodeInternal, "internal error")
	ErrRegistryUnavailable = NewCodeError(CodeRegistryUnavailable, "registry unavailable")
)

// StatusOf maps err to the status reported to transport callers. Only
// 200/400/401/500 cross the wire; the finer internal codes (404/410/503)
// all surface as 500.
func StatusOf(err error) int {
	switch code := CodeOf(err); code {
	case 200, CodeBadRequest, CodeUnauthorized:
		return code
	default:
		return CodeInternal
	}
}
