package errors

// Error codes for categorizing settlement failures.
// These codes are the machine-readable half of every rejection; the reason
// string carried next to them mirrors the custody layer's revert reasons.
const (
	// CodeAuthorization indicates the caller does not hold the required role.
	CodeAuthorization = "AUTHORIZATION_ERROR"

	// CodeInvalidState indicates the operation is illegal in the escrow's
	// current status.
	CodeInvalidState = "INVALID_STATE"

	// CodeValidation indicates malformed arguments: zero address, length
	// mismatch, too many recipients, missing url/hash, fee sum out of
	// bounds, duplicate payout id.
	CodeValidation = "VALIDATION_ERROR"

	// CodeInsufficientFunds indicates a reserve or payout exceeds what is
	// available.
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"

	// CodePrecision indicates a decimal amount exceeds the token's decimal
	// precision.
	CodePrecision = "PRECISION_ERROR"

	// CodeUpstreamData indicates a downloaded blob is missing required
	// structure.
	CodeUpstreamData = "UPSTREAM_DATA_ERROR"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound = "NOT_FOUND"

	// CodeInternal indicates internal errors.
	CodeInternal = "INTERNAL"
)
