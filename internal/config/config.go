package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

// 不安全的默认值列表 (生产环境不应使用)
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"internal-secret":                      true,
	"internal-service-secret":              true,
	"":                                     true,
}

// DefaultStartupCommand is the panel startup script used when PANEL_STARTUP is unset.
const DefaultStartupCommand = `if [[ -d .git ]] && [[ {{AUTO_UPDATE}} == "1" ]]; then git pull; fi; ` +
	`if [[ ! -z ${NODE_PACKAGES} ]]; then /usr/local/bin/npm install ${NODE_PACKAGES}; fi; ` +
	`if [[ ! -z ${UNNODE_PACKAGES} ]]; then /usr/local/bin/npm uninstall ${UNNODE_PACKAGES}; fi; ` +
	`if [ -f /home/container/package.json ]; then /usr/local/bin/npm install; fi; /usr/local/bin/${CMD_RUN}`

// Config is loaded once at startup and passed around by pointer. Nothing mutates it afterwards.
type Config struct {
	Server         ServerConfig   `yaml:"server"`
	Database       DatabaseConfig `yaml:"database"`
	JWT            JWTConfig      `yaml:"jwt"`
	InternalSecret string         `yaml:"internal_secret" env:"INTERNAL_SECRET"`
	LogLevel       string         `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Payment        PaymentConfig  `yaml:"payment"`
	Panel          PanelConfig    `yaml:"panel"`
	Kafka          KafkaConfig    `yaml:"kafka"`
	Workers        WorkersConfig  `yaml:"workers"`
}

type ServerConfig struct {
	Port string `yaml:"port" env:"SERVER_PORT" env-default:"8005"`
	Mode string `yaml:"mode" env:"GIN_MODE" env-default:"release"` // 默认为 release 模式
}

type DatabaseConfig struct {
	Host           string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port           string `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User           string `yaml:"user" env:"DB_USER" env-default:"saas_user"`
	Password       string `yaml:"password" env:"DB_PASSWORD" env-default:"saas_pass"`
	DBName         string `yaml:"name" env:"DB_NAME" env-default:"saas_db"`
	SSLMode        string `yaml:"sslmode" env:"DB_SSLMODE" env-default:"disable"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"DB_MIGRATE" env-default:"true"`
}

type JWTConfig struct {
	SecretKey string `yaml:"secret_key" env:"JWT_SECRET_KEY"`
}

// PaymentConfig holds per-provider credentials. A provider without an API key is disabled.
type PaymentConfig struct {
	DefaultProvider string        `yaml:"default_provider" env:"PAYMENT_DEFAULT_PROVIDER" env-default:"atlantik"`
	Timeout         time.Duration `yaml:"timeout" env:"PAYMENT_TIMEOUT" env-default:"15s"`
	AtlantikBaseURL string        `yaml:"atlantik_base_url" env:"ATLANTIK_BASE_URL" env-default:"https://atlantik.top/api"`
	AtlantikAPIKey  string        `yaml:"atlantik_api_key" env:"ATLANTIK_API_KEY"`
	PakasirBaseURL  string        `yaml:"pakasir_base_url" env:"PAKASIR_BASE_URL" env-default:"https://pakasir.com/api"`
	PakasirAPIKey   string        `yaml:"pakasir_api_key" env:"PAKASIR_API_KEY"`
}

// ProviderCredentials is the resolved endpoint and key of a single payment provider.
type ProviderCredentials struct {
	BaseURL string
	APIKey  string
}

// Provider returns the credentials for a provider name; ok is false for unknown names.
func (p PaymentConfig) Provider(name string) (ProviderCredentials, bool) {
	switch name {
	case models.ProviderAtlantik:
		return ProviderCredentials{BaseURL: p.AtlantikBaseURL, APIKey: p.AtlantikAPIKey}, true
	case models.ProviderPakasir:
		return ProviderCredentials{BaseURL: p.PakasirBaseURL, APIKey: p.PakasirAPIKey}, true
	}
	return ProviderCredentials{}, false
}

type PanelConfig struct {
	Domain      string        `yaml:"domain" env:"PANEL_DOMAIN"`
	APIKey      string        `yaml:"api_key" env:"PANEL_API_KEY"`
	Location    int           `yaml:"location" env:"PANEL_LOCATION" env-default:"1"`
	Egg         int           `yaml:"egg" env:"PANEL_EGG" env-default:"1"`
	DockerImage string        `yaml:"docker_image" env:"PANEL_DOCKER_IMAGE" env-default:"ghcr.io/parkervcp/yolks:nodejs_20"`
	Startup     string        `yaml:"startup" env:"PANEL_STARTUP"`
	BuyerDomain string        `yaml:"buyer_domain" env:"PANEL_BUYER_DOMAIN" env-default:"buyer.storefront"`
	Timeout     time.Duration `yaml:"timeout" env:"PANEL_TIMEOUT" env-default:"30s"`
}

// Missing lists the required panel settings that are absent.
func (p PanelConfig) Missing() []string {
	var missing []string
	if p.Domain == "" {
		missing = append(missing, "PANEL_DOMAIN")
	}
	if p.APIKey == "" {
		missing = append(missing, "PANEL_API_KEY")
	}
	if p.Location <= 0 {
		missing = append(missing, "PANEL_LOCATION")
	}
	if p.Egg <= 0 {
		missing = append(missing, "PANEL_EGG")
	}
	return missing
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"storefront.events"`
}

type WorkersConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval" env:"RECONCILE_INTERVAL" env-default:"1m"`
	ReconcileStaleAge time.Duration `yaml:"reconcile_stale_age" env:"RECONCILE_STALE_AGE" env-default:"2m"`
	ReconcileBatch    int           `yaml:"reconcile_batch" env:"RECONCILE_BATCH" env-default:"50"`
	SweepInterval     time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"5m"`
	SweepGrace        time.Duration `yaml:"sweep_grace" env:"SWEEP_GRACE" env-default:"10m"`
	SweepBatch        int           `yaml:"sweep_batch" env:"SWEEP_BATCH" env-default:"20"`
}

// Load reads CONFIG_PATH (yaml) when set, then the environment. A local .env is honored if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if cfg.Panel.Startup == "" {
		cfg.Panel.Startup = DefaultStartupCommand
	}

	return &cfg, nil
}

// Validate 验证配置有效性，生产环境必须设置安全的密钥
func (c *Config) Validate() error {
	// 检查 JWT 密钥
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}

	// 检查内部服务密钥
	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be at least 32 characters long")
	}

	if _, ok := c.Payment.Provider(c.Payment.DefaultProvider); !ok {
		return fmt.Errorf("PAYMENT_DEFAULT_PROVIDER %q is not a known provider", c.Payment.DefaultProvider)
	}
	if c.Payment.Timeout <= 0 || c.Panel.Timeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT and PANEL_TIMEOUT must be positive")
	}

	// 后台任务: time.NewTicker 不接受非正数间隔
	w := c.Workers
	if w.ReconcileInterval <= 0 || w.SweepInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL and SWEEP_INTERVAL must be positive")
	}
	if w.ReconcileBatch <= 0 || w.SweepBatch <= 0 {
		return fmt.Errorf("RECONCILE_BATCH and SWEEP_BATCH must be positive")
	}
	if w.ReconcileStaleAge < 0 {
		return fmt.Errorf("RECONCILE_STALE_AGE must not be negative")
	}
	// an attempt is only swept once both panel calls must have finished
	if w.SweepGrace <= 2*c.Panel.Timeout {
		return fmt.Errorf("SWEEP_GRACE (%s) must exceed twice PANEL_TIMEOUT (%s)", w.SweepGrace, c.Panel.Timeout)
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}
