package util

import (
	"errors"
	"net/http"
	"therapy_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CursorResponse 游标分页响应结构
type CursorResponse struct {
	List       interface{} `json:"list"`
	NextCursor *string     `json:"nextCursor"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
	})
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, "Unauthorized")
}

func Forbidden(c *gin.Context) {
	Error(c, http.StatusForbidden, "Forbidden")
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context) {
	Error(c, http.StatusNotFound, "Resource not found")
}

func InternalServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "Internal server error")
}

func LogInternalError(c *gin.Context, err error) {
	logger.Log.Error("Internal server error", zap.Error(err), zap.String("path", c.FullPath()))
	InternalServerError(c)
}

// HandleServiceError 将服务层错误映射为 HTTP 状态码
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case IsNotFound(err):
		Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		Error(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAlreadySubmitted),
		errors.Is(err, ErrAttemptClosed),
		errors.Is(err, ErrActiveAssignmentExists),
		errors.Is(err, ErrConcurrentUpdate):
		Error(c, http.StatusConflict, err.Error())
	case errors.Is(err, ErrAssignmentRequired),
		errors.Is(err, ErrNotEnrolled):
		Error(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidAssignment),
		errors.Is(err, ErrInvalidAnswer),
		errors.Is(err, ErrIncompleteAnswers),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidRecurrence),
		errors.Is(err, ErrOverlappingScoreBands),
		errors.Is(err, ErrInvalidScoreBand):
		BadRequest(c, err.Error())
	default:
		// SnapshotFailed 以及存储层错误
		LogInternalError(c, err)
	}
}
