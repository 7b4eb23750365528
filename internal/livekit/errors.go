package livekit

import (
	"context"
	"errors"
	"fmt"

	"github.com/twitchtv/twirp"
)

// ErrorKind classifies fabric failures for the caller. The campaign runtime
// treats every kind as a permanent per-call failure; the kinds exist for
// logging and for provisioning handlers to map onto HTTP statuses.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
	KindAuth      ErrorKind = "auth"
	KindNotFound  ErrorKind = "not_found"
	KindTimeout   ErrorKind = "timeout"
)

// Error is a classified fabric failure.
type Error struct {
	Kind    ErrorKind
	Op      string
	Code    string // provider error code when available
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("livekit %s: %s (%s): %s", e.Op, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("livekit %s: %s: %s", e.Op, e.Kind, e.Message)
}

// classify wraps a raw client error with a kind derived from its twirp code.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Message: err.Error()}
	}

	var twerr twirp.Error
	if errors.As(err, &twerr) {
		kind := KindPermanent
		switch twerr.Code() {
		case twirp.Unavailable, twirp.ResourceExhausted, twirp.Internal:
			kind = KindTransient
		case twirp.DeadlineExceeded, twirp.Canceled:
			kind = KindTimeout
		case twirp.Unauthenticated, twirp.PermissionDenied:
			kind = KindAuth
		case twirp.NotFound:
			kind = KindNotFound
		}
		return &Error{Kind: kind, Op: op, Code: string(twerr.Code()), Message: twerr.Msg()}
	}

	return &Error{Kind: KindPermanent, Op: op, Message: err.Error()}
}

// KindOf returns the classified kind, or KindPermanent for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPermanent
}
