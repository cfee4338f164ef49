package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/faucetdb/keygate/internal/model"
)

// writeError writes the standard error envelope. The handler package has
// its own copy; middleware cannot import it.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
