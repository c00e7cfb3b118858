package server

import (
	"github.com/gin-gonic/gin"

	"github.com/mcowger/plexus/internal/unified"
)

func openaiErrorType(class unified.ErrorClass) string {
	switch class {
	case unified.ErrInvalidRequest, unified.ErrUpstreamInvalid:
		return "invalid_request_error"
	case unified.ErrUnknownModel:
		return "not_found_error"
	case unified.ErrUpstreamRateLimited:
		return "rate_limit_error"
	case unified.ErrUpstreamAuth:
		return "authentication_error"
	default:
		return "api_error"
	}
}

func anthropicErrorType(class unified.ErrorClass) string {
	switch class {
	case unified.ErrInvalidRequest, unified.ErrUpstreamInvalid:
		return "invalid_request_error"
	case unified.ErrUnknownModel:
		return "not_found_error"
	case unified.ErrUpstreamRateLimited:
		return "rate_limit_error"
	case unified.ErrUpstreamAuth:
		return "authentication_error"
	case unified.ErrAllProvidersFailed, unified.ErrNoEligibleProvider, unified.ErrUpstreamTransient:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

func geminiErrorStatus(class unified.ErrorClass) string {
	switch class {
	case unified.ErrInvalidRequest, unified.ErrUpstreamInvalid:
		return "INVALID_ARGUMENT"
	case unified.ErrUnknownModel:
		return "NOT_FOUND"
	case unified.ErrUpstreamRateLimited:
		return "RESOURCE_EXHAUSTED"
	case unified.ErrUpstreamAuth:
		return "PERMISSION_DENIED"
	case unified.ErrNoEligibleProvider, unified.ErrAllProvidersFailed:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// writeError renders a failure in the client dialect's error shape.
func writeError(c *gin.Context, dialect unified.Dialect, err error) {
	ge := unified.AsGateway(err)
	switch dialect {
	case unified.DialectAnthropic:
		c.JSON(ge.Status, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    anthropicErrorType(ge.Class),
				"message": ge.Message,
			},
		})
	case unified.DialectGemini:
		c.JSON(ge.Status, gin.H{
			"error": gin.H{
				"code":    ge.Status,
				"message": ge.Message,
				"status":  geminiErrorStatus(ge.Class),
			},
		})
	default:
		c.JSON(ge.Status, gin.H{
			"error": gin.H{
				"message": ge.Message,
				"type":    openaiErrorType(ge.Class),
				"code":    string(ge.Class),
			},
		})
	}
}
