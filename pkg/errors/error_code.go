package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidActivation    ErrorCode = 102
	ErrCodeInvalidStake         ErrorCode = 103
	ErrCodeInsufficientData     ErrorCode = 104
	ErrCodeInvalidMode          ErrorCode = 105
	ErrCodeMissingParameter     ErrorCode = 106

	// Connection errors (200-299)
	ErrCodeAuthFailed       ErrorCode = 200
	ErrCodeTimeout          ErrorCode = 201
	ErrCodeConnectionClosed ErrorCode = 202
	ErrCodeMalformedMessage ErrorCode = 203
	ErrCodeDialFailed       ErrorCode = 204
	ErrCodeWriteFailed      ErrorCode = 205

	// Broker errors (300-399)
	ErrCodeBrokerRejected      ErrorCode = 300
	ErrCodeInsufficientBalance ErrorCode = 301
	ErrCodeRateLimited         ErrorCode = 302
	ErrCodeProposalFailed      ErrorCode = 303
	ErrCodePurchaseFailed      ErrorCode = 304
	ErrCodeSubscriptionFailed  ErrorCode = 305

	// Risk errors (400-499)
	ErrCodeStakeBelowMinimum ErrorCode = 400
	ErrCodeFloorBreached     ErrorCode = 401

	// Session errors (500-599)
	ErrCodeSessionNotFound      ErrorCode = 500
	ErrCodeSessionAlreadyActive ErrorCode = 501
	ErrCodeSessionStopped       ErrorCode = 502
	ErrCodeOperationInFlight    ErrorCode = 503

	// Persistence errors (600-699)
	ErrCodeQueryFailed        ErrorCode = 600
	ErrCodeRecordFailed       ErrorCode = 601
	ErrCodeConfigReadFailed   ErrorCode = 602
	ErrCodeStorageUnavailable ErrorCode = 603

	// Notification errors (700-799)
	ErrCodePublishFailed ErrorCode = 700
)
