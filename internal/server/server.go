package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	automationdomain "github.com/smallbiznis/charla/internal/automation/domain"
	"github.com/smallbiznis/charla/internal/config"
	convdomain "github.com/smallbiznis/charla/internal/conversation/domain"
	orgdomain "github.com/smallbiznis/charla/internal/organization/domain"
	"github.com/smallbiznis/charla/internal/ratelimit"
	walletdomain "github.com/smallbiznis/charla/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	genID           *snowflake.Node
	organizationSvc orgdomain.Service
	conversationSvc convdomain.Service
	walletSvc       walletdomain.Service
	pipeline        automationdomain.Pipeline
	limiter         *ratelimit.MessageIngestLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	GenID           *snowflake.Node
	OrganizationSvc orgdomain.Service
	ConversationSvc convdomain.Service
	WalletSvc       walletdomain.Service
	Pipeline        automationdomain.Pipeline
	Limiter         *ratelimit.MessageIngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		genID:           p.GenID,
		organizationSvc: p.OrganizationSvc,
		conversationSvc: p.ConversationSvc,
		walletSvc:       p.WalletSvc,
		pipeline:        p.Pipeline,
		limiter:         p.Limiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.orgScope())

	v1.POST("/messages/ingest", s.ingestMessage)
	v1.GET("/conversations/:id", s.getConversation)

	v1.GET("/wallet", s.getWallet)
	v1.POST("/wallet/credits", s.creditWallet)
	v1.GET("/usage_records", s.listUsageRecords)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
