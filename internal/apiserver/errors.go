package apiserver

import (
	"strings"

	"github.com/voicetree/core/internal/apperrors"
)

// sanitizeError maps an internal error to a message safe to return to an
// HTTP client: no absolute filesystem paths, no driver-specific detail.
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case apperrors.IsUnknownNode(err):
		return "node not found"
	case apperrors.IsFileLimitExceeded(err):
		return "vault exceeds the configured file count ceiling"
	case apperrors.IsIntegrityError(err):
		return "graph integrity violation"
	case apperrors.IsWriteFailure(err):
		return "failed to write node to disk"
	case apperrors.IsParseError(err):
		return "failed to parse vault file"
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"):
		return "operation timed out"
	case strings.Contains(msg, "database"), strings.Contains(msg, "sqlite"):
		return "storage operation failed"
	default:
		return "request could not be completed"
	}
}
