package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openleague/market-engine/internal/types"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response. Retryable distinguishes transient
// conditions (lock contention, timeouts) from terminal domain violations so
// clients can apply retry logic correctly.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
	ErrCodeOrderNotAvailable = "ORDER_NOT_AVAILABLE"
	ErrCodeBidTooLow         = "BID_TOO_LOW"
	ErrCodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	ErrCodeInvalidOwnership  = "INVALID_OWNERSHIP"
	ErrCodePlayerNotEligible = "PLAYER_NOT_ELIGIBLE"
	ErrCodePlayerLocked      = "PLAYER_LOCKED"
	ErrCodeLockContention    = "LOCK_CONTENTION"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, types.ErrOrderNotFound),
		errors.Is(err, types.ErrTeamNotFound),
		errors.Is(err, types.ErrLeagueNotFound),
		errors.Is(err, types.ErrPlayerNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	case errors.Is(err, types.ErrOrderNotAvailable):
		domainError(c, http.StatusConflict, ErrCodeOrderNotAvailable, err, false)
	case errors.Is(err, types.ErrBidTooLow):
		domainError(c, http.StatusUnprocessableEntity, ErrCodeBidTooLow, err, false)
	case errors.Is(err, types.ErrInsufficientFunds):
		domainError(c, http.StatusUnprocessableEntity, ErrCodeInsufficientFunds, err, false)
	case errors.Is(err, types.ErrInvalidOwnership):
		domainError(c, http.StatusForbidden, ErrCodeInvalidOwnership, err, false)
	case errors.Is(err, types.ErrPlayerNotEligible):
		domainError(c, http.StatusUnprocessableEntity, ErrCodePlayerNotEligible, err, false)
	case errors.Is(err, types.ErrPlayerLocked):
		domainError(c, http.StatusConflict, ErrCodePlayerLocked, err, false)
	case errors.Is(err, types.ErrLockHeld):
		domainError(c, http.StatusServiceUnavailable, ErrCodeLockContention, err, true)
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

func domainError(c *gin.Context, status int, code string, err error, retryable bool) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:      code,
			Message:   err.Error(),
			Retryable: retryable,
		},
	})
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeNotFound,
			Message: message,
		},
	})
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBadRequest,
			Message: message,
		},
	})
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeUnauthorized,
			Message: message,
		},
	})
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeForbidden,
			Message: message,
		},
	})
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeInternalError,
			Message: message,
		},
	})
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeDuplicateResource,
			Message: message,
		},
	})
}
