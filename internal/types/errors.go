package types

// ErrorCode identifies an API failure by area and HTTP status.
type ErrorCode string

const (
	CodeFansUnavailable    ErrorCode = "FAN_503"
	CodeSensorsUnavailable ErrorCode = "SENSOR_503"
	CodeProfileInvalid     ErrorCode = "PROFILE_400"
	CodeProfileUnknown     ErrorCode = "PROFILE_404"
	CodePressureInvalid    ErrorCode = "PRESSURE_400"
	CodeReleaseFailed      ErrorCode = "CONTROL_502"
)

type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func NewErrorResponse(code ErrorCode, message, details string) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}}
}

// FromError uses err's text as the details; a nil err leaves them empty.
func FromError(code ErrorCode, message string, err error) ErrorResponse {
	if err == nil {
		return NewErrorResponse(code, message, "")
	}
	return NewErrorResponse(code, message, err.Error())
}
