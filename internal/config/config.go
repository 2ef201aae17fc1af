package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Tenants     TenantsConfig     `yaml:"tenants" mapstructure:"tenants"`
	Portal      PortalConfig      `yaml:"portal" mapstructure:"portal"`
	Consolidate ConsolidateConfig `yaml:"consolidate" mapstructure:"consolidate"`
	Classify    ClassifyConfig    `yaml:"classify" mapstructure:"classify"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Campaign    CampaignConfig    `yaml:"campaign" mapstructure:"campaign"`
	Notify      NotifyConfig      `yaml:"notify" mapstructure:"notify"`
	Notion      NotionConfig      `yaml:"notion" mapstructure:"notion"`
	CRM         CRMConfig         `yaml:"crm" mapstructure:"crm"`
	Catalog     CatalogConfig     `yaml:"catalog" mapstructure:"catalog"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// TenantsConfig points at the tenant roster file.
type TenantsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PortalConfig configures the records-portal driver sidecar.
type PortalConfig struct {
	DriverURL   string `yaml:"driver_url" mapstructure:"driver_url"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	ResultCap   int    `yaml:"result_cap" mapstructure:"result_cap"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ConsolidateConfig configures consolidated-file output.
type ConsolidateConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ClassifyConfig configures the classifier.
type ClassifyConfig struct {
	// ValueThreshold is the high-net-worth cutoff on estimated home value.
	// Deployment-specific (750k or 900k in practice), never hard-coded.
	ValueThreshold float64 `yaml:"value_threshold" mapstructure:"value_threshold"`
}

// BatchConfig configures weekly batch building.
type BatchConfig struct {
	WeeksPerMonth int    `yaml:"weeks_per_month" mapstructure:"weeks_per_month"`
	AnchorWeekday string `yaml:"anchor_weekday" mapstructure:"anchor_weekday"`
}

// CampaignConfig configures the campaign platform client.
type CampaignConfig struct {
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey     string  `yaml:"api_key" mapstructure:"api_key"`
	SettleSecs int     `yaml:"settle_secs" mapstructure:"settle_secs"`
	RateRPS    float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
}

// NotifyConfig configures the reviewer webhook channel.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// NotionConfig holds Notion API credentials and the batch tracking database.
type NotionConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BatchDB string `yaml:"batch_db" mapstructure:"batch_db"`
}

// CRMConfig holds Salesforce JWT auth settings for the lead mirror.
type CRMConfig struct {
	ClientID string  `yaml:"client_id" mapstructure:"client_id"`
	Username string  `yaml:"username" mapstructure:"username"`
	KeyPath  string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string  `yaml:"login_url" mapstructure:"login_url"`
	RateRPS  float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
}

// CatalogConfig points at the ZCTA shapefile used to validate unit codes.
type CatalogConfig struct {
	ShapefilePath string `yaml:"shapefile_path" mapstructure:"shapefile_path"`
}

// ServerConfig configures the command server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LISTPULL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("tenants.path", "tenants.yaml")
	v.SetDefault("portal.result_cap", 10000)
	v.SetDefault("portal.max_retries", 3)
	v.SetDefault("portal.timeout_secs", 300)
	v.SetDefault("consolidate.dir", "consolidated")
	v.SetDefault("classify.value_threshold", 750000)
	v.SetDefault("batch.weeks_per_month", 4)
	v.SetDefault("batch.anchor_weekday", "Monday")
	v.SetDefault("campaign.settle_secs", 20)
	v.SetDefault("campaign.rate_rps", 2)
	v.SetDefault("crm.login_url", "https://login.salesforce.com")
	v.SetDefault("crm.rate_rps", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
