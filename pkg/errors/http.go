package errors

import (
	"encoding/json"
	"net/http"
)

// HTTPStatus maps an error code to an HTTP status code.
func HTTPStatus(code string) int {
	switch code {
	case CodeAuthorization:
		return http.StatusForbidden
	case CodeInvalidState:
		return http.StatusConflict
	case CodeValidation, CodePrecision:
		return http.StatusBadRequest
	case CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case CodeUpstreamData:
		return http.StatusBadGateway
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// WriteHTTP writes err as a JSON error response with the mapped status.
func WriteHTTP(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	reason := err.Error()
	if e, ok := err.(Error); ok {
		reason = e.Reason()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(code))
	_ = json.NewEncoder(w).Encode(ErrorResponse{Code: code, Reason: reason})
}
