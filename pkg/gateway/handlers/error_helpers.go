package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/attune-voice/attune/pkg/gateway/apierror"
	"github.com/attune-voice/attune/pkg/gateway/mw"
)

func requestIDFrom(r *http.Request) string {
	id, _ := mw.RequestIDFrom(r.Context())
	return id
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	coreErr, status := apierror.FromError(err, requestIDFrom(r))
	writeJSON(w, status, apierror.Envelope{Error: coreErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
