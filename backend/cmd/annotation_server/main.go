package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"annotationServer/backend/config"
	"annotationServer/backend/internal/cache"
	"annotationServer/backend/internal/collab"
	"annotationServer/backend/internal/httpapi/handlers"
	"annotationServer/backend/internal/httpapi/middleware"
	"annotationServer/backend/internal/store"
	"annotationServer/backend/internal/ws"
)

func newRedis(cfg *config.Config) redis.UniversalClient {
	if cfg.Redis.Cluster || len(cfg.Redis.Addrs) > 1 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addrs[0],
		Password: cfg.Redis.Password,
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: port=%d redis=%v kafka=%v topic=%s", cfg.Running.Port, cfg.Redis.Addrs, cfg.Kafka.Brokers, cfg.Kafka.Topic)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 依赖按配置可选：没有配置的存储/中间件走内存模式。
	// 注意用接口类型的 nil，避免把 typed nil 传进 Service
	var (
		snapshots collab.SnapshotStore
		documents collab.DocumentStore
		ranges    collab.RangeIndex
		lister    handlers.RangeLister
		events    collab.EventSink
		presence  cache.PresenceCache
		index     *cache.AnnotationIndexCache
	)

	// === Redis ===
	if len(cfg.Redis.Addrs) > 0 {
		rdb := newRedis(cfg)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		presence = cache.NewRedisPresence(rdb)
		index = cache.NewAnnotationIndexCache(rdb)
	}

	// === MySQL ===
	if cfg.Mysql.DSN != "" {
		db, err := sql.Open("mysql", cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		snapshots = store.NewSnapshotStore(db)
		documents = store.NewDocumentStore(db)

		gdb, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to init gorm: %v", err)
		}
		repo := store.NewAnnotationRangeRepo(gdb)
		ranges, lister = repo, repo
	}

	// === Kafka Producer ===
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()

		// 本地队列 + worker 重试发送
		dispatcher := collab.NewKafkaDispatcher(
			producer,
			cfg.Kafka.Topic,
			collab.NewSemaphoreControl(cfg.Concurrency.KafkaSemaphore),
			cfg.Kafka.Dispatcher,
		)
		// 先于 producer.Close 执行，把队列里的事件发完
		defer dispatcher.Close()
		events = dispatcher
	}

	svc := collab.NewInMemoryService(snapshots, documents, ranges, events, collab.Options{
		RingCap:               cfg.Annotations.RingCap,
		Prefix:                cfg.Annotations.Prefix,
		DefaultAnnotationType: cfg.Annotations.DefaultType,
		EnqueueTimeout:        cfg.Concurrency.EnqueueTimeout,
		OnChange: func(docID string, revision uint64) {
			if index == nil {
				return
			}
			// 持有文档锁时被调用，异步失效缓存
			go func() {
				ictx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := index.Invalidate(ictx, docID, revision); err != nil {
					log.Printf("invalidate annotation index failed doc=%s rev=%d err=%v", docID, revision, err)
				}
			}()
		},
	})

	hub := ws.NewHub(presence)
	manager := ws.NewManager(hub, svc, collab.NewSemaphoreControl(cfg.Concurrency.WSSemaphore),
		cfg.Server.AllowedOrigins, ws.ConnOptions{
			PresenceTTL:   cfg.Presence.TTL,
			SubmitTimeout: cfg.Concurrency.SubmitTimeout,
		})

	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	if cfg.Server.EnableCORS {
		r.Use(cors.New(cors.Config{
			AllowOriginFunc:  func(origin string) bool { return true },
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/collab/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	group := r.Group("/collab")
	// 鉴权：从 Authorization 或 ?token= 提取 token，写入 userId/username
	if cfg.Auth.JWTSecret != "" {
		group.Use(middleware.JWTMiddleware(cfg.Auth.JWTSecret))
	} else {
		group.Use(middleware.AuthMiddleware(cfg.Auth.Path, cfg.Auth.Timeout))
	}
	group.GET("/ws", manager.WebSocketConnect)
	handlers.New(svc, index, lister).Register(group)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Running.Port), Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen failed: %v", err)
		}
	}()
	log.Printf("annotation server listening on %s", srv.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
