package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	CodeRequiredField   Code = "REQUIRED_FIELD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidFormat   Code = "INVALID_FORMAT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"

	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Chain access
const (
	CodeEthereumConnectionFailed Code = "ETHEREUM_CONNECTION_FAILED"
	CodeEthereumSubscribeFailed  Code = "ETHEREUM_SUBSCRIBE_FAILED"
	CodeEthereumRPCError         Code = "ETHEREUM_RPC_ERROR"
	CodeBlockNotFound            Code = "BLOCK_NOT_FOUND"
	CodeContractCallFailed       Code = "CONTRACT_CALL_FAILED"
	CodeInvalidContractResponse  Code = "INVALID_CONTRACT_RESPONSE"
)

// Pricing
const (
	CodePoolNotFound       Code = "POOL_NOT_FOUND"
	CodeNoPrice            Code = "PRICE_NOT_FOUND"
	CodeInvalidTokenAddr   Code = "INVALID_TOKEN_ADDRESS"
	CodeUnknownVenue       Code = "UNKNOWN_VENUE"
	CodeIndexUnavailable   Code = "INDEX_UNAVAILABLE"
	CodeIndexBadResponse   Code = "INDEX_INVALID_RESPONSE"
	CodeTokenMetadataError Code = "TOKEN_METADATA_FAILED"
)

// Sessions and streaming
const (
	CodeInvalidMessage     Code = "INVALID_MESSAGE"
	CodeUnknownMessageType Code = "INVALID_MESSAGE_TYPE"
	CodeSessionNotFound    Code = "SESSION_NOT_FOUND"
	CodeSessionSendFailed  Code = "SESSION_SEND_FAILED"
	CodeSessionClosed      Code = "SESSION_CLOSED"

	CodeWebSocketConnectionError Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketClosed          Code = "WEBSOCKET_CLOSED"
	CodeWebSocketSendError       Code = "WEBSOCKET_SEND_ERROR"
)

// Storage
const (
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeStorageQueryFailed Code = "STORAGE_QUERY_FAILED"
)

// Circuit breaker errors
const (
	CodeCircuitOpen Code = "CIRCUIT_OPEN"
)
