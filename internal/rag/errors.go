package rag

import (
	"context"
	"errors"
	"net"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrEntityNotFound   = errors.New("entity not found")
	ErrInsufficientData = errors.New("insufficient data to index")
	ErrIndexUnavailable = errors.New("vector index unavailable")
	ErrEmbedding        = errors.New("embedding failed")
	ErrGeneration       = errors.New("answer generation failed")
)

// Error kinds exposed at the service boundary.
const (
	KindInvalidInput     = "invalid_input"
	KindNotFound         = "not_found"
	KindInsufficientData = "insufficient_data"
	KindIndexUnavailable = "index_unavailable"
	KindEmbedding        = "embedding_failed"
	KindGeneration       = "generation_failed"
	KindInternal         = "internal"
)

// KindOf classifies err into one of the Kind constants.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrEntityNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientData):
		return KindInsufficientData
	case errors.Is(err, ErrIndexUnavailable):
		return KindIndexUnavailable
	case errors.Is(err, ErrEmbedding):
		return KindEmbedding
	case errors.Is(err, ErrGeneration):
		return KindGeneration
	default:
		return KindInternal
	}
}

// IsTimeout reports whether err was caused by an expired deadline, either the
// caller's context or a transport timeout such as http.Client.Timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
