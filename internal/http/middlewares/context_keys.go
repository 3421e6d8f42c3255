package middlewares

// gin context keys
const (
	CtxRequestID    = "request_id"
	CtxUserID       = "auth.userID"
	CtxAccessToken  = "auth.accessToken"
	CtxAccessClaims = "auth.accessClaims"
	CtxAuthReason   = "auth.rejectReason"
)
