package errors

type Code string

const (
	NotFound             Code = "NOT_FOUND"
	InvalidInput         Code = "INVALID_INPUT"
	InsufficientBalance  Code = "INSUFFICIENT_BALANCE"
	Unauthorized         Code = "UNAUTHORIZED"
	DuplicateAddress     Code = "DUPLICATE_ADDRESS"
	AlreadySigned        Code = "ALREADY_SIGNED"
	NotAnOwner           Code = "NOT_AN_OWNER"
	TransferNotPending   Code = "TRANSFER_NOT_PENDING"
	Contention           Code = "CONTENTION"
	InvalidConfiguration Code = "INVALID_CONFIGURATION"
	Fatal                Code = "FATAL"
)

// Sentinels for errors.Is checks. Any AppError carrying the same code
// matches, whatever its Op or cause.
var (
	ErrNotFound             = &AppError{Code: NotFound}
	ErrInvalidInput         = &AppError{Code: InvalidInput}
	ErrInsufficientBalance  = &AppError{Code: InsufficientBalance}
	ErrUnauthorized         = &AppError{Code: Unauthorized}
	ErrDuplicateAddress     = &AppError{Code: DuplicateAddress}
	ErrAlreadySigned        = &AppError{Code: AlreadySigned}
	ErrNotAnOwner           = &AppError{Code: NotAnOwner}
	ErrTransferNotPending   = &AppError{Code: TransferNotPending}
	ErrContention           = &AppError{Code: Contention}
	ErrInvalidConfiguration = &AppError{Code: InvalidConfiguration}
	ErrFatal                = &AppError{Code: Fatal}
)

// Retryable reports whether the caller may simply try the same request again.
func (c Code) Retryable() bool {
	return c == Contention
}
