package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	apperrors "github.com/seda/bdportal/internal/errors"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Err.Error()})
}

// authErrorBody is the only shape auth failures are reported in. Backend messages never leak.
type authErrorBody struct {
	Error    domainauth.ErrorKind  `json:"error"`
	Message  string                `json:"message"`
	UserType domainauth.CoarseType `json:"user_type,omitempty"`
}

var kindStatus = map[domainauth.ErrorKind]int{
	domainauth.KindInvalidCredentials: http.StatusUnauthorized,
	domainauth.KindEmailNotConfirmed:  http.StatusForbidden,
	domainauth.KindRateLimited:        http.StatusTooManyRequests,
	domainauth.KindEmailInUse:         http.StatusConflict,
	domainauth.KindWeakPassword:       http.StatusUnprocessableEntity,
	domainauth.KindAuthFailed:         http.StatusUnauthorized,
}

// WriteAuthError reports err as its error kind. Validation errors keep their own message.
func WriteAuthError(w http.ResponseWriter, err error, t domainauth.CoarseType) {
	if apperrors.IsValidation(err) {
		WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error":   string(apperrors.ErrCodeValidation),
			"message": apperrors.PublicMessage(err),
		})
		return
	}
	kind := domainauth.TranslateError(err)
	WriteJSON(w, kindStatus[kind], authErrorBody{Error: kind, Message: kind.Message(), UserType: t})
}

// WriteAppError maps repository and service errors onto a status and public message.
func WriteAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	code := "internal"
	if errors.As(err, &appErr) {
		code = string(appErr.Code)
	}
	WriteJSON(w, apperrors.HTTPStatus(err), map[string]string{
		"error":   code,
		"message": apperrors.PublicMessage(err),
	})
}
