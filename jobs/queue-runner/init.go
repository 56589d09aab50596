package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/dealerkit/mailer-backend/pkg/db"
	mailerDB "github.com/dealerkit/mailer-backend/pkg/db/mailer"
	"github.com/dealerkit/mailer-backend/pkg/smtpclient"
	"github.com/dealerkit/mailer-backend/pkg/utils"
)

// Environment variables
const (
	ENV_CONFIG_FILE_PATH = "CONFIG_FILE_PATH"

	// Variables to override "secrets" in the config file
	ENV_MAILER_DB_USERNAME  = "MAILER_DB_USERNAME"
	ENV_MAILER_DB_PASSWORD  = "MAILER_DB_PASSWORD"
	ENV_SMTP_RELAY_USERNAME = "SMTP_RELAY_USERNAME"
	ENV_SMTP_RELAY_PASSWORD = "SMTP_RELAY_PASSWORD"
)

type config struct {
	// Logging configs
	Logging utils.LoggerConfig `json:"logging" yaml:"logging"`

	// DB configs
	DBConfigs struct {
		MailerDB db.DBConfigYaml `json:"mailer_db" yaml:"mailer_db"`
	} `json:"db_configs" yaml:"db_configs"`

	// Transport configs
	SMTPConfig struct {
		Transport   smtpclient.Config `json:"transport" yaml:"transport"`
		SendingHost string            `json:"sending_host" yaml:"sending_host"`
	} `json:"smtp_config" yaml:"smtp_config"`

	// Queue configs
	QueueConfig struct {
		BatchSize  int `json:"batch_size" yaml:"batch_size"`
		MaxRetries int `json:"max_retries" yaml:"max_retries"`
	} `json:"queue_config" yaml:"queue_config"`
}

var (
	conf            config
	mailerDBService *mailerDB.MailerDBService
)

func init() {
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

	// init db
	initDBs()
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
}

func initDBs() {
	var err error
	start := time.Now()
	mailerDBService, err = mailerDB.NewMailerDBService(db.DBConfigFromYamlObj(conf.DBConfigs.MailerDB))
	if err != nil {
		slog.Error("Error connecting to Mailer DB", slog.String("error", err.Error()))
		panic("Error connecting to Mailer DB")
	}
	slog.Debug("Connected to Mailer DB", slog.String("duration", time.Since(start).String()))
}
