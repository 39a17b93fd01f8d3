package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodeBookingNotFound    = 1001
	CodeInvalidTransition  = 1002 // 状态流转不合法，属于程序/并发错误，记日志排查
	CodeQuotaExhausted     = 1003 // 用户可自行理解的失败，原样透出
	CodeDuplicateRequest   = 1004
	CodeAccountNotFound    = 1005
	CodePaymentFailed      = 1006 // 支付失败单独报，配额没有被消耗
	CodeNotEligible        = 1008 // 未开户，引导去申请
	CodeProfileIncomplete  = 1009
	CodeQuotaAtCap         = 1010
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
