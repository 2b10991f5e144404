package middlewares

const (
	CtxRequestID = "request_id"
	CtxJobID     = "job_id"

	ctxAccountIDKey = "auth.accountID"
	ctxEmailKey     = "auth.email"
	ctxRoleKey      = "auth.role"
)
