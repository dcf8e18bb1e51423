package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"career-agent-go/internal/api/handler"
	"career-agent-go/internal/api/router"
	"career-agent-go/internal/bootstrap"
	"career-agent-go/internal/config"
	appLogger "career-agent-go/internal/logger"
	"career-agent-go/internal/outbox"
	"career-agent-go/internal/storage"
	"career-agent-go/internal/tracing"
)

var (
	version     = "1.0.0"        //nolint:gochecknoglobals
	serviceName = "career-agent" //nolint:gochecknoglobals
)

func main() {
	_ = godotenv.Load()

	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	initLogger(cfg.Logger)
	glog.Infof("%s %s 配置加载成功", serviceName, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = serviceName
	}
	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	application, err := bootstrap.New(ctx, cfg, storageManager, bootstrap.WithVerbose(cfg.Logger.Level == "debug"))
	if err != nil {
		glog.Fatalf("组装应用失败: %v", err)
	}
	glog.Infof("技能分类加载成功: %d 个条目", application.Taxonomy.Len())

	if info, err := application.Rebuilder.Bootstrap(ctx); err != nil {
		// 索引不可用时服务仍启动，推荐接口返回 503，可通过管理接口重建
		glog.Errorf("索引初始化失败: %v", err)
	} else {
		glog.Infof("索引就绪: generation=%s items=%d", info.GenerationID, info.Items)
	}

	var messageRelay *outbox.MessageRelay
	if storageManager.MySQL != nil && storageManager.RabbitMQ != nil {
		relayLogger := log.New(appLogger.Logger, "[MessageRelay] ", log.LstdFlags|log.Lshortfile)
		messageRelay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ, relayLogger,
			outbox.WithPollingInterval(config.GetDuration(cfg.RabbitMQ.OutboxPollInterval, 2*time.Second)),
			outbox.WithBatchSize(cfg.RabbitMQ.OutboxBatchSize),
		)
		messageRelay.Start()
		glog.Info("消息中继服务已启动")
	}

	if storageManager.RabbitMQ != nil {
		go startRebuildConsumer(ctx, cfg, storageManager.RabbitMQ, application)
	}

	opts := []handler.Option{
		handler.WithMaxUploadMB(cfg.Server.MaxUploadMB),
		handler.WithLogger(log.New(appLogger.Logger, "", 0)),
	}
	if cfg.Server.AdminAPIKey != "" {
		opts = append(opts, handler.WithCorpusAdmin(application.Rebuilder))
	} else {
		glog.Warn("未配置 admin_api_key，管理接口已禁用")
	}
	hd := handler.NewHandler(application.Pipeline, application.Index, opts...)

	h := router.NewServer(cfg.Server)
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		glog.CtxInfof(c, "%s %s status=%d latency=%s", string(ctx.Method()), string(ctx.Path()), ctx.Response.StatusCode(), time.Since(start))
	})
	router.RegisterRoutes(h, hd, cfg.Server.AdminAPIKey)
	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)

	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	cancel()
	if messageRelay != nil {
		messageRelay.Stop()
		glog.Info("消息中继服务已停止")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		glog.Errorf("关闭链路追踪失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

// startRebuildConsumer 消费语料变更事件并重建索引，连接失败时按间隔重试
func startRebuildConsumer(ctx context.Context, cfg *config.Config, mq *storage.RabbitMQ, application *bootstrap.App) {
	if err := mq.EnsureCorpusTopology(); err != nil {
		glog.Errorf("声明语料事件拓扑失败: %v", err)
		return
	}
	retry := config.GetDuration(cfg.RabbitMQ.RetryInterval, 5*time.Second)
	for {
		err := mq.StartConsumer(ctx, cfg.RabbitMQ.IndexRebuildQueue, cfg.RabbitMQ.PrefetchCount, application.Rebuilder.HandleCorpusUpdated)
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		glog.Warnf("索引重建消费者异常退出: %v, %s 后重试", err, retry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func initLogger(cfg config.LoggerConfig) {
	appLogger.Init(appLogger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		TimeFormat:   cfg.TimeFormat,
		ReportCaller: cfg.ReportCaller,
	})
	glog.SetLogger(hertzadapter.From(appLogger.Logger))
	if cfg.Level == "debug" {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
}
