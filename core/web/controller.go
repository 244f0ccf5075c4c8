package web

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/solpine/sol_wallet/config"
	"github.com/solpine/sol_wallet/core/coin"
	"github.com/solpine/sol_wallet/core/web/handler"
	"github.com/solpine/sol_wallet/utils/logger"
)

// CryptoSymbol resolves the asset a request operates on from the
// X-Crypto header, defaulting to the native asset. Unknown symbols
// are rejected before any handler runs.
func CryptoSymbol() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.GetHeader("X-Crypto")
		if symbol == "" {
			symbol = coin.NativeSymbol
		}
		if !handler.ValidSymbol(symbol) {
			c.AbortWithStatusJSON(http.StatusBadRequest, handler.Response{
				Code:    http.StatusBadRequest,
				Message: "unknown crypto symbol " + symbol,
			})
			return
		}
		c.Set(handler.SymbolKey, symbol)
		c.Next()
	}
}

func ServerRoute(h *handler.WalletHandler) *gin.Engine {
	router := gin.New()

	recoverFile, err := os.OpenFile("./log/recover.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil || recoverFile == nil {

		if err != nil {
			logger.Logrus.WithFields(logrus.Fields{"ErrMsg": err.Error()}).Error("open recover log file failed")
		}
		if recoverFile == nil {
			logger.Logrus.Error("open recover log file failed:recoverFile is nil")
		}

		return nil
	}

	router.Use(MiddleLogger(config.GetLogConfig(), "/metrics"), gin.RecoveryWithWriter(recoverFile))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var guards []gin.HandlerFunc
	apiCfg := config.GetAPIConfig()
	if apiCfg.Username != "" {
		guards = append(guards, gin.BasicAuth(gin.Accounts{apiCfg.Username: apiCfg.Password}))
	} else {
		logger.Logrus.Warn("API credentials are not configured, basic auth disabled")
	}
	guards = append(guards, CryptoSymbol())

	api := router.Group("/", guards...)

	api.POST("/generate-address", h.GenerateAddress)
	api.POST("/balance", h.Balance)
	api.POST("/status", h.Status)
	api.POST("/transaction/:txid", h.Transaction)
	api.POST("/dump", h.Dump)
	api.POST("/fee-deposit-account", h.FeeDepositAccount)
	api.POST("/get_all_addresses", h.AllAddresses)
	api.POST("/calc-tx-fee/:amount", h.CalcTxFee)
	api.POST("/multipayout", h.Multipayout)
	api.POST("/payout/:to/:amount", h.Payout)
	api.POST("/task/:id", h.TaskState)

	return router
}

func Run(h *handler.WalletHandler) {
	router := ServerRoute(h)
	if router != nil {
		server := &http.Server{
			Addr:         config.GetAPIConfig().Listen,
			Handler:      router,
			ReadTimeout:  120 * time.Second,
			WriteTimeout: 120 * time.Second,
		}

		go func() {
			err := server.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				logger.Logrus.WithFields(logrus.Fields{"ErrMsg": err}).Fatal("Server start failed")
			}
		}()

		// Wait for interrupt signal to gracefully shutdown the server with
		// a timeout of 5 seconds.
		quit := make(chan os.Signal, 1)
		// kill (no param) default send syscall.SIGTERM
		// kill -2 is syscall.SIGINT
		// kill -9 is syscall.SIGKILL but can't be caught, so don't need to add it
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Logrus.WithFields(logrus.Fields{"ErrMsg": err.Error()}).Error("Server forced to shutdown")
		}

		logger.Logrus.Info("Server shutdown complete")
	}
}
