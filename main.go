package main

import (
	"log"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wesleylin/BatchGenPro/controller"
	"github.com/wesleylin/BatchGenPro/dao/mysql"
	"github.com/wesleylin/BatchGenPro/dao/store"
	"github.com/wesleylin/BatchGenPro/logic"
	"github.com/wesleylin/BatchGenPro/middleware"
	"github.com/wesleylin/BatchGenPro/pkg/jwt"
	"github.com/wesleylin/BatchGenPro/pkg/queue"
	sse "github.com/wesleylin/BatchGenPro/pkg/sse"
	"github.com/wesleylin/BatchGenPro/util"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := controller.InitTrans("zh"); err != nil {
		log.Fatalf("Failed to init validator translator: %v", err)
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		jwt.SetSecret(secret)
	}

	if err := util.EnsureDirs(); err != nil {
		log.Fatalf("Failed to create upload dirs: %v", err)
	}

	// 1. Redis：任务存储 + 每日限流共用同一个客户端
	rdb, err := store.NewClient(envOr("REDIS_ADDR", "localhost:6379"), os.Getenv("REDIS_PASSWORD"))
	if err != nil {
		log.Fatalf("Failed to init Redis: %v", err)
	}
	defer rdb.Close()

	taskManager := store.NewBatchTaskManager(rdb)

	dailyLimit := store.DefaultDailyLimit
	if v := os.Getenv("DAILY_IMAGE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			dailyLimit = n
		}
	}
	limiter := store.NewDailyLimitManager(rdb, dailyLimit)

	// 2. MySQL：账号与积分。未配置 DSN 时跳过，仅保留匿名批量生成能力
	mysqlReady := false
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		if err := mysql.Init(dsn); err != nil {
			log.Fatalf("Failed to init MySQL: %v", err)
		}
		defer mysql.Close()
		mysqlReady = true
	}

	// 3. SSE hub：任务完成后向会话推送通知
	sseHub := sse.NewHub()
	sse.SetDefaultHub(sseHub)
	go sseHub.Run()

	processor := logic.NewBatchProcessor(taskManager, sseHub)

	// 4. 可选的 RabbitMQ 异步执行路径，默认同步执行
	var batchQueue queue.BatchQueue
	if dsn := os.Getenv("BATCH_QUEUE_DSN"); dsn != "" {
		batchQueue, err = queue.NewBatchQueue(dsn, processor, taskManager)
		if err != nil {
			log.Fatalf("Failed to init RabbitMQ: %v", err)
		}
		defer batchQueue.Close()
		go func() {
			if err := batchQueue.Consume(); err != nil {
				log.Fatalf("batch queue consume failed: %v", err)
			}
		}()
	}

	batchHandler := controller.NewBatchHandler(taskManager, limiter, processor, batchQueue)

	r := gin.Default()

	r.Static("/static/uploads", util.UploadDir)
	r.Static("/static/results", util.ResultDir)

	r.GET("/events", sse.ServeSSE)

	api := r.Group("/api")
	{
		api.GET("/health", controller.HealthCheck)
		api.GET("/limit", batchHandler.GetLimitStatus)

		// MySQL 未启用时不挂认证中间件，积分扣费随之跳过
		optionalAuth := func(c *gin.Context) { c.Next() }
		if mysqlReady {
			optionalAuth = middleware.OptionalAuthMiddleware()
		}

		api.POST("/generate", optionalAuth, batchHandler.GenerateImage)

		batch := api.Group("/batch", optionalAuth)
		{
			batch.POST("/generate", batchHandler.CreateBatchTask)
			batch.GET("/tasks", batchHandler.GetBatchTasks)
			batch.GET("/tasks/:task_id", batchHandler.GetBatchTask)
			batch.GET("/tasks/:task_id/status", batchHandler.GetBatchTaskStatus)
			batch.GET("/tasks/:task_id/results", batchHandler.GetBatchTaskResults)
			batch.DELETE("/tasks/:task_id", batchHandler.CancelBatchTask)
		}

		if mysqlReady {
			api.POST("/signup", controller.SignUpHandler)
			api.POST("/login", controller.LoginHandler)
			api.POST("/refresh_token", controller.RefreshTokenHandler)

			user := api.Group("/user", middleware.JWTAuthMiddleware())
			{
				user.GET("/credits", controller.GetCreditsHandler)
				user.GET("/credits/history", controller.GetCreditHistoryHandler)
				user.POST("/credits/recharge", controller.RechargeCreditsHandler)
			}
		}
	}

	if err := r.Run(":" + envOr("PORT", "5000")); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}
