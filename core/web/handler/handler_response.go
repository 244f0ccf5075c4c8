package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solpine/sol_wallet/core/errs"
)

type Response struct {
	Code    int64       `json:"code"`
	Message string      `json:"msg"`
	Data    interface{} `json:"data"`
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "ok", Data: data})
}

// respondErr maps an error kind to the HTTP status the gateway
// expects. Transient kinds come back 503 so the caller retries.
func respondErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindInsufficientFunds:
		status = http.StatusConflict
	case errs.KindTransientStore, errs.KindRPC:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, Response{Code: int64(status), Message: err.Error(), Data: nil})
}
