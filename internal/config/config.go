package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Agent     AgentConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Worker    WorkerConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Addr        string
	ReadTimeout time.Duration
	// SSE 连接会单独禁用 write deadline，这个值只约束普通请求
	WriteTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AgentConfig struct {
	BaseURL string
	// 普通聊天的上游超时；流式请求首字节延迟更高，超时也更长
	ChatTimeout   time.Duration
	StreamTimeout time.Duration
}

type CacheConfig struct {
	Prefix string
}

type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int64
}

type WorkerConfig struct {
	Concurrency int
}

type MetricsConfig struct {
	Addr string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         getEnv("SERVER_ADDR", ":8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Agent: AgentConfig{
			BaseURL:       getEnv("AGENT_BASE_URL", "http://localhost:8000"),
			ChatTimeout:   getDurationEnv("AGENT_CHAT_TIMEOUT", 30*time.Second),
			StreamTimeout: getDurationEnv("AGENT_STREAM_TIMEOUT", 120*time.Second),
		},
		Cache: CacheConfig{
			Prefix: getEnv("CACHE_PREFIX", "cea:"),
		},
		RateLimit: RateLimitConfig{
			Window:      getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
			MaxRequests: int64(getIntEnv("RATE_LIMIT_MAX_REQUESTS", 20)),
		},
		Worker: WorkerConfig{
			Concurrency: getIntEnv("WORKER_CONCURRENCY", 5),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
