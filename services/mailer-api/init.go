package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/dealerkit/mailer-backend/pkg/db"
	mailerDB "github.com/dealerkit/mailer-backend/pkg/db/mailer"
	"github.com/dealerkit/mailer-backend/pkg/messaging/engine"
	"github.com/dealerkit/mailer-backend/pkg/messaging/tracking"
	"github.com/dealerkit/mailer-backend/pkg/smtpclient"
	"github.com/dealerkit/mailer-backend/pkg/utils"
)

// Environment variables
const (
	ENV_CONFIG_FILE_PATH = "CONFIG_FILE_PATH"

	// Variables to override "secrets" in the config file
	ENV_MAILER_DB_USERNAME    = "MAILER_DB_USERNAME"
	ENV_MAILER_DB_PASSWORD    = "MAILER_DB_PASSWORD"
	ENV_SMTP_RELAY_USERNAME   = "SMTP_RELAY_USERNAME"
	ENV_SMTP_RELAY_PASSWORD   = "SMTP_RELAY_PASSWORD"
	ENV_TRACKING_TOKEN_SECRET = "TRACKING_TOKEN_SECRET"
	ENV_MAILER_API_KEYS       = "MAILER_API_KEYS"
)

type MailerApiConfig struct {
	// Logging configs
	Logging utils.LoggerConfig `json:"logging" yaml:"logging"`

	// Gin configs
	GinConfig struct {
		DebugMode    bool     `json:"debug_mode" yaml:"debug_mode"`
		AllowOrigins []string `json:"allow_origins" yaml:"allow_origins"`
		Port         string   `json:"port" yaml:"port"`
	} `json:"gin_config" yaml:"gin_config"`

	ApiKeys []string `json:"api_keys" yaml:"api_keys"`

	// DB configs
	DBConfigs struct {
		MailerDB db.DBConfigYaml `json:"mailer_db" yaml:"mailer_db"`
	} `json:"db_configs" yaml:"db_configs"`

	// Transport configs
	SMTPConfig struct {
		Transport smtpclient.Config `json:"transport" yaml:"transport"`
		// SendingHost is the public hostname used in SPF records and as
		// EHLO identity when helo_domain is unset.
		SendingHost string `json:"sending_host" yaml:"sending_host"`
	} `json:"smtp_config" yaml:"smtp_config"`

	// Tracking configs
	TrackingConfig struct {
		BaseURL             string `json:"base_url" yaml:"base_url"`
		TokenSecret         string `json:"token_secret" yaml:"token_secret"`
		UnsubscribeTokenTTL string `json:"unsubscribe_token_ttl" yaml:"unsubscribe_token_ttl"`
	} `json:"tracking_config" yaml:"tracking_config"`

	// Queue configs
	QueueConfig struct {
		Disabled     bool   `json:"disabled" yaml:"disabled"`
		TickInterval string `json:"tick_interval" yaml:"tick_interval"`
		BatchSize    int    `json:"batch_size" yaml:"batch_size"`
		MaxRetries   int    `json:"max_retries" yaml:"max_retries"`
	} `json:"queue_config" yaml:"queue_config"`

	// Engine configs
	EngineConfig engine.Config `json:"engine_config" yaml:"engine_config"`
}

var (
	conf            MailerApiConfig
	mailerDBService *mailerDB.MailerDBService
)

func init() {
	// Optional .env for local development
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment variables from .env file")
	}

	// Read config from file
	yamlFile, err := os.ReadFile(os.Getenv(ENV_CONFIG_FILE_PATH))
	if err != nil {
		panic(err)
	}

	err = yaml.UnmarshalStrict(yamlFile, &conf)
	if err != nil {
		panic(err)
	}

	// Init logger:
	utils.InitLogger(
		conf.Logging.LogLevel,
		conf.Logging.IncludeSrc,
		conf.Logging.LogToFile,
		conf.Logging.Filename,
		conf.Logging.MaxSize,
		conf.Logging.MaxAge,
		conf.Logging.MaxBackups,
		conf.Logging.CompressOldLogs,
		conf.Logging.IncludeBuildInfo,
	)

	// Override secrets from environment variables
	secretsOverride()

	checkRequiredConf()

	// Init DBs
	initDBs()

	if !conf.GinConfig.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
}

func secretsOverride() {
	if dbUsername := os.Getenv(ENV_MAILER_DB_USERNAME); dbUsername != "" {
		conf.DBConfigs.MailerDB.Username = dbUsername
	}

	if dbPassword := os.Getenv(ENV_MAILER_DB_PASSWORD); dbPassword != "" {
		conf.DBConfigs.MailerDB.Password = dbPassword
	}

	if relayUsername := os.Getenv(ENV_SMTP_RELAY_USERNAME); relayUsername != "" {
		conf.SMTPConfig.Transport.Relay.Username = relayUsername
	}

	if relayPassword := os.Getenv(ENV_SMTP_RELAY_PASSWORD); relayPassword != "" {
		conf.SMTPConfig.Transport.Relay.Password = relayPassword
	}

	if tokenSecret := os.Getenv(ENV_TRACKING_TOKEN_SECRET); tokenSecret != "" {
		conf.TrackingConfig.TokenSecret = tokenSecret
	}

	if apiKeys := os.Getenv(ENV_MAILER_API_KEYS); apiKeys != "" {
		conf.ApiKeys = []string{apiKeys}
	}
}

func checkRequiredConf() {
	if len(conf.ApiKeys) < 1 {
		slog.Error("No API keys configured")
		panic("No API keys configured")
	}

	if conf.TrackingConfig.TokenSecret == "" {
		slog.Error("Tracking token secret not configured")
		panic("Tracking token secret not configured")
	}

	if conf.TrackingConfig.BaseURL == "" {
		slog.Error("Tracking base URL not configured")
		panic("Tracking base URL not configured")
	}
}

func initDBs() {
	var err error
	mailerDBService, err = mailerDB.NewMailerDBService(db.DBConfigFromYamlObj(conf.DBConfigs.MailerDB))
	if err != nil {
		slog.Error("Error connecting to Mailer DB", slog.String("error", err.Error()))
		panic("Error connecting to Mailer DB")
	}
}

func loadTrackingConfig() tracking.Config {
	ttl := 30 * 24 * time.Hour
	if conf.TrackingConfig.UnsubscribeTokenTTL != "" {
		parsed, err := utils.ParseDurationString(conf.TrackingConfig.UnsubscribeTokenTTL)
		if err != nil {
			slog.Error("Invalid unsubscribe token TTL", slog.String("error", err.Error()))
			panic("Invalid unsubscribe token TTL")
		}
		ttl = parsed
	}
	return tracking.Config{
		BaseURL:             conf.TrackingConfig.BaseURL,
		TokenSecret:         conf.TrackingConfig.TokenSecret,
		UnsubscribeTokenTTL: ttl,
	}
}
