package api

import (
	"errors"
	"net/http"

	"VolCast/internal/domain/errs"
	xhttp "VolCast/pkg/http"
)

// toAppError maps a domain error onto the HTTP error envelope.
func toAppError(err error) *xhttp.AppError {
	var de *errs.DataError
	switch {
	case errors.As(err, &de):
		return xhttp.NewAppError("ERR_DATA", de.Field, de.Error(), http.StatusUnprocessableEntity).WithError(err)
	case errors.Is(err, errs.ErrData):
		return xhttp.NewAppError("ERR_DATA", "", err.Error(), http.StatusUnprocessableEntity).WithError(err)
	case errors.Is(err, errs.ErrInsufficientData):
		return xhttp.NewAppError("ERR_INSUFFICIENT_DATA", "", err.Error(), http.StatusConflict).WithError(err)
	case errors.Is(err, errs.ErrStaleArtifact):
		return xhttp.NewAppError("ERR_STALE_ARTIFACT", "", err.Error(), http.StatusPreconditionFailed).WithError(err)
	case errors.Is(err, errs.ErrModelRejected):
		return xhttp.NewAppError("ERR_MODEL_REJECTED", "", err.Error(), http.StatusConflict).WithError(err)
	case errors.Is(err, errs.ErrLocked):
		return xhttp.NewAppError("ERR_LOCKED", "", err.Error(), http.StatusConflict).WithError(err)
	case errors.Is(err, errs.ErrUpstreamUnavailable):
		return xhttp.NewAppError("ERR_UPSTREAM", "", "upstream unavailable", http.StatusServiceUnavailable).WithError(err)
	default:
		return xhttp.NewAppError("ERR_INTERNAL", "", "internal error", http.StatusInternalServerError).WithError(err)
	}
}
