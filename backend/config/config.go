package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"annotationServer/backend/internal/collab"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Server struct {
		EnableCORS     bool     `mapstructure:"enableCors"`
		AllowedOrigins []string `mapstructure:"allowedOrigins"`
	} `mapstructure:"server"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
		// 一个地址时默认单机，多个地址走集群
		Cluster bool `mapstructure:"cluster"`
	} `mapstructure:"redis"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Kafka struct {
		Brokers    []string                      `mapstructure:"brokers"`
		Topic      string                        `mapstructure:"topic"`
		Dispatcher collab.KafkaDispatcherOptions `mapstructure:"dispatcher"`
	} `mapstructure:"kafka"`
	Auth struct {
		// auth-service 地址；JWTSecret 非空时改为本地校验
		Path      string        `mapstructure:"path"`
		JWTSecret string        `mapstructure:"jwtSecret"`
		Timeout   time.Duration `mapstructure:"timeout"`
	} `mapstructure:"auth"`
	Annotations struct {
		Prefix      string `mapstructure:"prefix"`
		DefaultType string `mapstructure:"defaultType"`
		RingCap     int    `mapstructure:"ringCap"`
	} `mapstructure:"annotations"`
	Presence struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"presence"`
	Concurrency struct {
		WSSemaphore    int           `mapstructure:"wsSemaphore"`
		KafkaSemaphore int           `mapstructure:"kafkaSemaphore"`
		SubmitTimeout  time.Duration `mapstructure:"submitTimeout"`
		EnqueueTimeout time.Duration `mapstructure:"enqueueTimeout"`
	} `mapstructure:"concurrency"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 8082)
	v.SetDefault("server.enableCors", false)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("redis.addrs", []string{"127.0.0.1:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.cluster", false)
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "document-events")
	// Go 允许在数字里用下划线做分隔符，方便阅读
	v.SetDefault("kafka.dispatcher.queueSize", 10_000)
	v.SetDefault("kafka.dispatcher.workers", 4)
	v.SetDefault("kafka.dispatcher.maxRetry", 3)
	v.SetDefault("kafka.dispatcher.baseBackoff", 50*time.Millisecond)
	v.SetDefault("kafka.dispatcher.maxBackoff", time.Second)
	v.SetDefault("auth.path", "http://localhost:3001")
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.timeout", 1200*time.Millisecond)
	v.SetDefault("annotations.prefix", "annotation")
	v.SetDefault("annotations.defaultType", "comment")
	v.SetDefault("annotations.ringCap", 1024)
	v.SetDefault("presence.ttl", 600*time.Second)
	v.SetDefault("concurrency.wsSemaphore", 100)
	v.SetDefault("concurrency.kafkaSemaphore", 100)
	v.SetDefault("concurrency.submitTimeout", 200*time.Millisecond)
	v.SetDefault("concurrency.enqueueTimeout", 100*time.Millisecond)
}

// Load 读取 annotationConfig.yaml；文件不存在时只用默认值和环境变量。
// 环境变量前缀 ANNOTATION，例如 ANNOTATION_MYSQL_DSN
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("annotationConfig")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		// 兼容从项目根目录或 backend 目录启动
		paths = []string{"./backend/config", "./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("ANNOTATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
