package engine

import (
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// Lifecycle errors carry the request id. Canceled and removed requests
// cannot be fetched again; their messages tell the caller to resubmit,
// which yields a new request id.

// NewNotFoundError reports an unknown request id or one owned by another user.
func NewNotFoundError(id string) *ir.Error {
	e := ir.Errorf(ir.CodeRequestNotFound, "request %s not found", id).WithToken(id)
	e.RequestID = id
	return e
}

// NewNotFinishedError reports a fetch of a request in state new or running.
func NewNotFinishedError(id string, state ir.RequestState) *ir.Error {
	e := ir.Errorf(ir.CodeRequestNotFinished, "request %s is not finished yet (state %s)", id, state)
	e.RequestID = id
	return e
}

// NewCanceledError reports a fetch of a canceled request.
func NewCanceledError(id string) *ir.Error {
	e := ir.Errorf(ir.CodeRequestCanceled, "request %s was canceled, please submit the request again", id)
	e.RequestID = id
	return e
}

// NewRemovedError reports a fetch of a removed request.
func NewRemovedError(id string) *ir.Error {
	e := ir.Errorf(ir.CodeRequestRemoved, "request %s was cleared, please submit the request again", id)
	e.RequestID = id
	return e
}

// NewFailedError wraps the materialization error of a failed request. The
// cause keeps its own code and position.
func NewFailedError(id string, cause *ir.Error) *ir.Error {
	e := ir.Errorf(ir.CodeRequestFailed, "request %s failed: %s", id, cause.Message)
	e.RequestID = id
	e.Err = cause
	return e
}

// NewQuotaError reports that user exhausted the submission rate.
func NewQuotaError(user string, perSecond float64, burst int) *ir.Error {
	return ir.Errorf(ir.CodeQuotaExceeded,
		"user %s exceeded the request quota (%.2f per second, burst %d)", user, perSecond, burst).WithToken(user)
}
