package router

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"career-agent-go/internal/api/handler"
	"career-agent-go/internal/config"
)

// NewServer 创建带链路追踪中间件的 Hertz 服务
func NewServer(cfg config.ServerConfig, opts ...hertzconfig.Option) *server.Hertz {
	tracer, tcfg := hertztracing.NewServerTracer()
	opts = append([]hertzconfig.Option{tracer, server.WithHostPorts(cfg.Address)}, opts...)
	if cfg.MaxUploadMB > 0 {
		// multipart 之外还要留出表单字段的余量
		opts = append(opts, server.WithMaxRequestBodySize((cfg.MaxUploadMB+1)<<20))
	}
	h := server.New(opts...)
	h.Use(hertztracing.ServerMiddleware(tcfg))
	return h
}

// RegisterRoutes 注册 API 路由。adminKey 为空时不注册管理接口。
func RegisterRoutes(h *server.Hertz, hd *handler.Handler, adminKey string) {
	h.GET("/health", hd.HandleHealth)

	api := h.Group("/api/v1")
	api.POST("/recommend", hd.HandleRecommend)
	api.POST("/recommend/batch", hd.HandleRecommendBatch)
	api.POST("/retrieve", hd.HandleRetrieve)
	api.POST("/chat", hd.HandleChat)
	api.GET("/index/status", hd.HandleIndexStatus)

	if adminKey == "" {
		return
	}
	admin := h.Group("/admin/v1", AdminAuth(adminKey))
	admin.POST("/corpus", hd.HandleImportCorpus)
	admin.POST("/index/rebuild", hd.HandleRebuild)
}

// AdminAuth 管理接口的 Bearer 鉴权
func AdminAuth(adminKey string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) == 1 {
				return true, nil
			}
			return false, errors.New("invalid admin key")
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "未授权"})
		}),
	)
}
