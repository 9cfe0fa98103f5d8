package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	CodeRequiredField:   "Required field is missing",
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidFormat:   "Invalid data format",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	CodeConfigurationError: "Configuration error",

	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeServiceUnavailable:   "Service temporarily unavailable",
	CodeRateLimitExceeded:    "Rate limit exceeded",

	CodeInternalError: "Internal server error",
	CodeUnknownError:  "An unknown error occurred",

	CodeEthereumConnectionFailed: "Failed to connect to Ethereum node",
	CodeEthereumSubscribeFailed:  "Failed to subscribe to Ethereum events",
	CodeEthereumRPCError:         "Ethereum RPC call failed",
	CodeBlockNotFound:            "Block not found",
	CodeContractCallFailed:       "Smart contract call failed",
	CodeInvalidContractResponse:  "Unexpected smart contract response",

	CodePoolNotFound:       "Pool not found or not priceable",
	CodeNoPrice:            "No price available",
	CodeInvalidTokenAddr:   "Invalid token address",
	CodeUnknownVenue:       "Unknown venue",
	CodeIndexUnavailable:   "Pool index unavailable",
	CodeIndexBadResponse:   "Pool index returned an invalid response",
	CodeTokenMetadataError: "Failed to read token metadata",

	CodeInvalidMessage:     "Malformed message",
	CodeUnknownMessageType: "Unknown message type",
	CodeSessionNotFound:    "Session not found",
	CodeSessionSendFailed:  "Failed to deliver message to session",
	CodeSessionClosed:      "Session closed",

	CodeWebSocketConnectionError: "WebSocket connection error",
	CodeWebSocketClosed:          "WebSocket connection closed",
	CodeWebSocketSendError:       "Failed to send WebSocket message",

	CodeStorageUnavailable: "Storage unavailable",
	CodeStorageQueryFailed: "Storage query failed",

	CodeCircuitOpen: "Circuit breaker is open",
}
