package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "backoffice/api/swagger" // swagger docs
	"backoffice/internal/handler"
	"backoffice/internal/jobs"
	"backoffice/internal/middleware"
	"backoffice/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

var withJobs bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		return a.serve()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&withJobs, "with-jobs", false, "Also run the maintenance scheduler in this process")
	rootCmd.AddCommand(serveCmd)
}

func (a *app) router() *gin.Engine {
	if a.cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Recovery(a.log), middleware.RequestLogger(a.log))

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = a.cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Accept", "Idempotency-Key", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{"Content-Disposition", middleware.RequestIDHeader}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		sqlDB, err := a.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK", "ws_clients": a.hub.ClientCount()})
	})

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(a.hub, c)
	})

	// API Routing
	root := router.Group("")
	handler.NewInventoryHandler(a.inventory).RegisterRoutes(root)
	handler.NewOrderHandler(a.orders).RegisterRoutes(root)
	handler.NewCashHandler(a.cash).RegisterRoutes(root)
	handler.NewCustomerHandler(a.customers).RegisterRoutes(root)
	handler.NewLedgerHandler(a.ledger).RegisterRoutes(root)
	handler.NewCreditNoteHandler(a.creditNotes).RegisterRoutes(root)
	handler.NewAuditHandler(a.audit).RegisterRoutes(root)
	handler.NewStatisticsHandler(a.stats).RegisterRoutes(root)

	return router
}

func (a *app) serve() error {
	if err := handler.RegisterValidators(); err != nil {
		return err
	}
	go a.hub.Run()

	if withJobs {
		scheduler, err := jobs.Start(a.jobs(), a.cfg.Location(), a.log)
		if err != nil {
			return err
		}
		defer func() { <-scheduler.Stop().Done() }()
	}

	srv := &http.Server{
		Addr:              a.cfg.Address(),
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		a.log.Info("Shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
