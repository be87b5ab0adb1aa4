package errs

const (
	InvalidIdentityCode  = 1001
	UnregisteredUserCode = 1002
	InvalidTimeSpecCode  = 1003
	InvalidStatusCode    = 1004

	PublisherFailureCode = 1101
	ForbiddenCode        = 1102
	NotFoundCode         = 1103

	StoreUnavailableCode = 1201
	ServerInternalError  = 1500
)

var (
	ErrInvalidIdentity  = NewCodeError(InvalidIdentityCode, "InvalidIdentity")
	ErrUnregisteredUser = NewCodeError(UnregisteredUserCode, "UnregisteredUser")
	ErrInvalidTimeSpec  = NewCodeError(InvalidTimeSpecCode, "InvalidTimeSpec")
	ErrInvalidStatus    = NewCodeError(InvalidStatusCode, "InvalidStatus")

	ErrPublisherFailure = NewCodeError(PublisherFailureCode, "PublisherFailure")
	ErrForbidden        = NewCodeError(ForbiddenCode, "Forbidden")
	ErrNotFound         = NewCodeError(NotFoundCode, "NotFound")

	ErrStoreUnavailable = NewCodeError(StoreUnavailableCode, "StoreUnavailable")
	ErrInternal         = NewCodeError(ServerInternalError, "ServerInternalError")
)

func init() {
	// Forbidden and NotFound are publisher failures with a known cause.
	_ = DefaultCodeRelation.Add(PublisherFailureCode, ForbiddenCode)
	_ = DefaultCodeRelation.Add(PublisherFailureCode, NotFoundCode)
}
