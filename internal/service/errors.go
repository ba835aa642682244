package service

import (
	"errors"
	"fmt"

	"openbroadcast/stream-api/internal/model"
)

// Kind is the class of a failure. Callers branch on the kind, the reason
// is for humans and clients.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindRemote     Kind = "remote"
	KindDuplicate  Kind = "duplicate"
	KindStore      Kind = "store"
)

// Reason is a stable, machine readable failure code
type Reason string

const (
	ReasonInvalidID            Reason = "invalid_video_id"
	ReasonMissingTitle         Reason = "missing_title"
	ReasonSignatureMismatch    Reason = "signature_mismatch"
	ReasonUploadNotFound       Reason = "upload_not_found"
	ReasonRemoteCreateFailed   Reason = "remote_create_failed"
	ReasonCredentialFailed     Reason = "credential_request_failed"
	ReasonCredentialIncomplete Reason = "credential_incomplete"
	ReasonRemoteUnavailable    Reason = "remote_unavailable"
	ReasonRemoteVideoMissing   Reason = "remote_video_missing"
	ReasonRemoteVideoFailed    Reason = "remote_video_failed"
	ReasonDuplicateID          Reason = "duplicate_id"
	ReasonStoreFailed          Reason = "database_tx_failed"
	ReasonIDSpaceExhausted     Reason = "id_generation_exhausted"
	ReasonInternal             Reason = "internal_error"
)

type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	// Offending payload, safe to show to the client
	Detail any
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Reason, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(kind Kind, reason Reason, msg string, detail any, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: msg, Detail: detail, Err: err}
}

// KindOf returns the kind of err, or an empty kind if err isn't a service error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}

	return ReasonInternal
}

// Result is the envelope the HTTP layer returns for an upload creation.
// Success is the discriminant, the remaining fields depend on it.
type Result struct {
	Success    bool              `json:"success"`
	Reason     Reason            `json:"reason,omitempty"`
	Message    string            `json:"message,omitempty"`
	Detail     any               `json:"detail,omitempty"`
	Credential *model.Credential `json:"signature,omitempty"`
	Metadata   *model.Metadata   `json:"metadata,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

func NewResult(s *UploadSession, err error) Result {
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return Result{Reason: e.Reason, Message: e.Message, Detail: e.Detail}
		}

		return Result{Reason: ReasonInternal, Message: "Internal server error"}
	}

	return Result{
		Success:    true,
		Credential: &s.Credential,
		Metadata:   &s.Metadata,
		Warnings:   s.Warnings,
	}
}
