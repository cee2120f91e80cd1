// Package config загружает конфигурацию воркеров.
//
// Порядок источников (последний побеждает):
//  1. значения по умолчанию (Default)
//  2. YAML-файл из OPERON_CONFIG, если задан
//  3. переменные окружения с префиксом OPERON_, вложенность через "__":
//     OPERON_RETRY__COUNT=5, OPERON_POOLS__API__WORKER_COUNT=8
package config

import "time"

// Config — конфигурация процесса воркера.
type Config struct {
	Engine    EngineConfig    `koanf:"engine"`
	Retry     RetryConfig     `koanf:"retry"`
	HTTP      HTTPConfig      `koanf:"http"`
	Services  ServicesConfig  `koanf:"services"`
	Metering  MeteringConfig  `koanf:"metering"`
	Redis     RedisConfig     `koanf:"redis"`
	Database  DatabaseConfig  `koanf:"database"`
	MQ        MQConfig        `koanf:"mq"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Terraform TerraformConfig `koanf:"terraform"`
	Pools     PoolsConfig     `koanf:"pools"`
}

// EngineConfig — REST API движка процессов.
type EngineConfig struct {
	URL string `koanf:"url" validate:"required,url"`
	// WorkerIDPrefix — префикс идентификатора воркера, к нему добавляется топик и номер.
	WorkerIDPrefix string `koanf:"worker_id_prefix" validate:"required"`
	// RequestTimeout — таймаут обычных запросов к движку (не long-poll).
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// RetryConfig — линейная политика повторов задач.
type RetryConfig struct {
	Count int           `koanf:"count" validate:"gte=0"`
	Delay time.Duration `koanf:"delay" validate:"gte=0"`
}

// HTTPConfig — общий HTTP-клиент для внешних API.
type HTTPConfig struct {
	ReadTimeout    time.Duration `koanf:"read_timeout" validate:"gt=0"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	MaxPoolSize    int           `koanf:"max_pool_size" validate:"gt=0"`
	MaxPerRoute    int           `koanf:"max_per_route" validate:"gt=0"`
}

// ServicesConfig — адреса сервисов-коллабораторов.
type ServicesConfig struct {
	// MasterConfigURL — шаблон URL мастер-конфигурации, {masterConfigId} подставляется.
	MasterConfigURL string `koanf:"master_config_url"`
	// AllianceURL — шаблон URL конфигурации альянса, {buyerId} и {appId} подставляются.
	AllianceURL string `koanf:"alliance_url"`
	// SecretStoreURL — KV API хранилища секретов.
	SecretStoreURL   string `koanf:"secret_store_url"`
	SecretStoreToken string `koanf:"secret_store_token"`
	// PipelineURL — сервис пайплайнов, отдаёт собранный скрипт по pipelineId и version.
	PipelineURL string `koanf:"pipeline_url"`
	// ServiceDomain — внутренний домен. Вызовы внутри него не отправляются в gRPC-канал метрик.
	ServiceDomain string `koanf:"service_domain"`
	// ConfigCacheTTL — сколько держать конфигурационный документ в кэше.
	ConfigCacheTTL time.Duration `koanf:"config_cache_ttl"`
}

// MeteringConfig — приёмники метрик и статусов задач.
type MeteringConfig struct {
	IngestionURL      string `koanf:"ingestion_url"`
	APISchemaID       string `koanf:"api_schema_id"`
	JobStatusSchemaID string `koanf:"job_status_schema_id"`
	GRPCAddress       string `koanf:"grpc_address"`
	GRPCPort          int    `koanf:"grpc_port" validate:"gte=0,lte=65535"`
	// MaxRetries — число повторов REST-отправки (экспоненциальная пауза).
	MaxRetries uint64 `koanf:"max_retries"`
	// RetryBase — начальная пауза REST-повторов.
	RetryBase time.Duration `koanf:"retry_base"`
}

// RedisConfig — общий кэш. Пустой Addr включает кэш в памяти процесса.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	LRUSize  int    `koanf:"lru_size" validate:"gt=0"`
}

// DatabaseConfig — журнал попыток. Пустой URL отключает журнал.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns" validate:"gte=0"`
}

// MQConfig — RabbitMQ для событий статусов. Пустой URL отключает публикацию.
type MQConfig struct {
	URL string `koanf:"url"`
}

// MetricsConfig — HTTP-адрес для /metrics.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// TerraformConfig — хранилище remote state: подставляется в backend.tf и используется для снятия блокировки.
type TerraformConfig struct {
	StorageAccount string `koanf:"storage_account"`
	Container      string `koanf:"container"`
	AccessKey      string `koanf:"access_key"`
}

// PoolConfig — пул воркеров одного топика.
type PoolConfig struct {
	Enabled              bool          `koanf:"enabled"`
	WorkerCount          int           `koanf:"worker_count" validate:"gte=0"`
	MaxTasks             int           `koanf:"max_tasks" validate:"gte=0"`
	AsyncResponseTimeout time.Duration `koanf:"async_response_timeout" validate:"gte=0"`
	LockDuration         time.Duration `koanf:"lock_duration" validate:"gte=0"`
	BackoffInitial       time.Duration `koanf:"backoff_initial" validate:"gte=0"`
	BackoffMultiplier    float64       `koanf:"backoff_multiplier" validate:"gte=0"`
	BackoffMax           time.Duration `koanf:"backoff_max" validate:"gte=0"`
}

// PoolsConfig — пулы по типам задач.
type PoolsConfig struct {
	API         PoolConfig `koanf:"api"`
	Terraform   PoolConfig `koanf:"terraform"`
	ShellScript PoolConfig `koanf:"shell_script"`
	Ansible     PoolConfig `koanf:"ansible"`
	Python      PoolConfig `koanf:"python"`
}

func defaultPool(enabled bool, workers int, lock time.Duration) PoolConfig {
	return PoolConfig{
		Enabled:              enabled,
		WorkerCount:          workers,
		MaxTasks:             workers,
		AsyncResponseTimeout: 30 * time.Second,
		LockDuration:         lock,
		BackoffInitial:       500 * time.Millisecond,
		BackoffMultiplier:    2,
		BackoffMax:           60 * time.Second,
	}
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			URL:            "http://localhost:8080/engine-rest",
			WorkerIDPrefix: "operon",
			RequestTimeout: 30 * time.Second,
		},
		Retry: RetryConfig{
			Count: 3,
			Delay: 1 * time.Second,
		},
		HTTP: HTTPConfig{
			ReadTimeout:    60 * time.Second,
			ConnectTimeout: 10 * time.Second,
			MaxPoolSize:    200,
			MaxPerRoute:    50,
		},
		Services: ServicesConfig{
			ConfigCacheTTL: 30 * time.Second,
		},
		Metering: MeteringConfig{
			GRPCPort:   9090,
			MaxRetries: 3,
			RetryBase:  200 * time.Millisecond,
		},
		Redis: RedisConfig{
			LRUSize: 1024,
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		Metrics: MetricsConfig{
			Addr: ":9101",
		},
		Pools: PoolsConfig{
			API:         defaultPool(true, 8, 60*time.Second),
			Terraform:   defaultPool(true, 2, 10*time.Minute),
			ShellScript: defaultPool(true, 2, 5*time.Minute),
			Ansible:     defaultPool(false, 1, 5*time.Minute),
			Python:      defaultPool(false, 1, 5*time.Minute),
		},
	}
}
