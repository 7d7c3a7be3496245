package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/betbot/acdm/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// statusOf 领域错误类别 -> HTTP 状态码
func statusOf(err error) int {
	if errors.Is(err, domain.ErrOrderNotFound) {
		return http.StatusNotFound
	}
	switch domain.KindOf(err) {
	case domain.KindState:
		return http.StatusConflict
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindInput:
		return http.StatusBadRequest
	case domain.KindTransfer:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	body := errorBody{Error: err.Error(), Code: domain.CodeOf(err), Kind: string(domain.KindOf(err))}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
		body.Code = "Internal"
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: msg, Code: "BadRequest", Kind: string(domain.KindInput)})
}
