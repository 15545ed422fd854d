package httptransport

import (
	"encoding/json"
	"net/http"

	dErrors "github.com/olehkaliuzhnyi/certwallet/pkg/domainerrors"
)

// codeStatus maps domain codes onto HTTP statuses.
var codeStatus = map[dErrors.Code]int{
	dErrors.CodeInvalidKeyMaterial: http.StatusBadRequest,
	dErrors.CodeInvalidArgument:    http.StatusBadRequest,
	dErrors.CodeNotFound:           http.StatusNotFound,
	dErrors.CodeConflict:           http.StatusConflict,
	dErrors.CodeInternal:           http.StatusInternalServerError,
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// WriteError writes err as a JSON error body. Only the caller-safe message
// of a coded error is exposed.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorResponse{Error: string(code), Description: dErrors.Message(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
