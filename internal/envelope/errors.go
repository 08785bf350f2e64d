package envelope

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// ErrorDetail is one entry of an error envelope's errors list.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Classified is implemented by errors that know how buyers should see them.
type Classified interface {
	error
	EnvelopeStatus() Status
	ErrorCode() string
}

// Failure builds an envelope whose payload is {"errors": [...]}.
func Failure(status Status, errs []ErrorDetail, opts ...Option) (*Envelope, error) {
	list := make([]any, 0, len(errs))
	for _, e := range errs {
		entry := map[string]any{"code": e.Code, "message": e.Message}
		if len(e.Details) > 0 {
			entry["details"] = e.Details
		}
		list = append(list, entry)
	}
	return Wrap(map[string]any{"errors": list}, status, opts...)
}

// StatusForError picks the envelope status for err. Request validation failures
// are recoverable by resubmitting, so they ask for input. Unclassified errors
// are terminal failures.
func StatusForError(err error) Status {
	if err == nil {
		return StatusCompleted
	}
	var c Classified
	if errors.As(err, &c) {
		return c.EnvelopeStatus()
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return StatusInputRequired
	}
	return StatusFailed
}

// DetailsForError converts err into error entries, one per failed field for
// validation errors.
func DetailsForError(err error) []ErrorDetail {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]ErrorDetail, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, ErrorDetail{
				Code:    "validation_error",
				Message: fe.Error(),
				Details: map[string]any{"field": fe.Namespace(), "rule": fe.Tag()},
			})
		}
		return out
	}
	code := "internal_error"
	var c Classified
	if errors.As(err, &c) {
		code = c.ErrorCode()
	}
	return []ErrorDetail{{Code: code, Message: err.Error()}}
}

// FromError builds the failure envelope for err.
func FromError(err error, opts ...Option) *Envelope {
	status := StatusForError(err)
	if !status.Valid() {
		status = StatusFailed
	}
	// a map payload with a valid status cannot fail to wrap
	env, _ := Failure(status, DetailsForError(err), opts...)
	return env
}
