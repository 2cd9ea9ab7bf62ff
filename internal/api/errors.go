package api

import (
	"errors"

	"github.com/matheus3301/chatd/internal/apperr"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus converts an apperr category into a gRPC status.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch apperr.Category(err) {
	case apperr.ErrValidation:
		code = codes.InvalidArgument
	case apperr.ErrNotFound:
		code = codes.NotFound
	case apperr.ErrPermission:
		code = codes.PermissionDenied
	case apperr.ErrTransport:
		code = codes.Unavailable
	}
	return grpcstatus.Error(code, err.Error())
}

// FromStatus converts a gRPC status returned by the chat service back into
// an apperr category so callers can keep using errors.Is.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return apperr.Validation("", st.Message())
	case codes.NotFound:
		return &apperr.Error{Err: apperr.ErrNotFound, Message: st.Message()}
	case codes.PermissionDenied:
		return apperr.Permission(st.Message())
	case codes.Unavailable:
		return apperr.Transport("rpc", errors.New(st.Message()))
	}
	return err
}
