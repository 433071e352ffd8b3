package handler

import (
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/mindsignal/pairing/internal/errors"
	"github.com/mindsignal/pairing/internal/httputil"
)

func writeSuccess(w http.ResponseWriter, status int, data any) {
	httputil.WriteSuccess(w, status, data)
}

// writeError logs server-side failures before hiding them behind the envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if httputil.StatusFromCode(apperrors.GetCode(err)) >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	httputil.WriteError(w, err)
}
