package errs

const (
	ConnectFailedCode      = 1001
	AuthRejectedCode       = 1002
	QueueFullCode          = 1004
	SendRejectedCode       = 1005
	ArgsErrorCode          = 1006
	BusyCode               = 1007
	UnauthorizedCode       = 1101
	MalformedEventCode     = 1201
	ConversationClosedCode = 1301
	MessageNotFoundCode    = 1302
	EmptyMessageCode       = 1303
	NoCredentialCode       = 1401
	SessionStoppedCode     = 1402
	ServerInternalError    = 1500
)

var (
	ErrConnectFailed      = NewCodeError(ConnectFailedCode, "connect failed")
	ErrAuthRejected       = NewCodeError(AuthRejectedCode, "authentication rejected")
	ErrQueueFull          = NewCodeError(QueueFullCode, "outbound queue full")
	ErrSendRejected       = NewCodeError(SendRejectedCode, "publish rejected")
	ErrArgs               = NewCodeError(ArgsErrorCode, "invalid argument")
	ErrBusy               = NewCodeError(BusyCode, "operation in progress")
	ErrUnauthorized       = NewCodeError(UnauthorizedCode, "unauthorized")
	ErrMalformedEvent     = NewCodeError(MalformedEventCode, "malformed event")
	ErrConversationClosed = NewCodeError(ConversationClosedCode, "conversation closed")
	ErrMessageNotFound    = NewCodeError(MessageNotFoundCode, "message not found")
	ErrEmptyMessage       = NewCodeError(EmptyMessageCode, "empty message")
	ErrNoCredential       = NewCodeError(NoCredentialCode, "no credential")
	ErrSessionStopped     = NewCodeError(SessionStoppedCode, "session not started")
	ErrInternal           = NewCodeError(ServerInternalError, "internal error")
)

func init() {
	// an auth rejection during connect is also a failed connect
	_ = DefaultCodeRelation.Add(ConnectFailedCode, AuthRejectedCode)
	// a full queue is one way a publish gets rejected
	_ = DefaultCodeRelation.Add(SendRejectedCode, QueueFullCode)
}
