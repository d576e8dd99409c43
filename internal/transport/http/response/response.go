package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                 = 0
	CodeBadRequest         = 40000
	CodeNotFound           = 40400
	CodeInsufficientData   = 42200
	CodeInternalServer     = 50000
	CodeGenerationFailed   = 50200
	CodeEmbeddingFailed    = 50201
	CodeIndexUnavailable   = 50300
	CodeAsyncIndexDisabled = 50301
	CodeGenerationTimeout  = 50400
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Kind    string      `json:"kind,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// KindError is Error with the machine-readable error kind attached.
func KindError(c *gin.Context, httpStatus, code int, kind, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
		Kind:    kind,
	})
}
