package buildCFG

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"

	"eventpulse/internal/mailer"
)

type ServerConfig struct {
	Port string
}

type RabbitConfig struct {
	Url      string
	Exchange string
	Queue    string
}

// EngineConfig holds the engagement engine's maintenance knobs.
type EngineConfig struct {
	RetentionHours     int
	SweepIntervalHours int
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	port := cfg.GetString("server.port")
	if port == "" {
		port = "8080"
		log.Warn().Msg("server.port not set, defaulting to 8080")
	}
	return ServerConfig{Port: port}
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	host := cfg.GetString("database.host")
	port := cfg.GetString("database.port")
	user := cfg.GetString("database.user")
	password := cfg.GetString("database.password")
	name := cfg.GetString("database.name")
	sslmode := cfg.GetString("database.sslmode")

	if host == "" || user == "" || name == "" {
		log.Error().Msg("database.host, database.user and database.name are required")
		return "", nil, nil, errors.New("incomplete database configuration")
	}
	if port == "" {
		port = "5432"
	}
	if sslmode == "" {
		sslmode = "disable"
	}

	masterDSN := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslmode)

	opts := &dbpg.Options{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
	if v := cfg.GetInt("database.max_open_conns"); v > 0 {
		opts.MaxOpenConns = v
	}
	if v := cfg.GetInt("database.max_idle_conns"); v > 0 {
		opts.MaxIdleConns = v
	}
	return masterDSN, nil, opts, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (RabbitConfig, error) {
	out := RabbitConfig{
		Url:      cfg.GetString("rabbit.url"),
		Exchange: cfg.GetString("rabbit.exchange"),
		Queue:    cfg.GetString("rabbit.queue"),
	}
	if out.Url == "" {
		log.Error().Msg("rabbit.url is required")
		return RabbitConfig{}, errors.New("incomplete rabbit configuration")
	}
	if out.Exchange == "" {
		out.Exchange = "engagement.pipeline"
	}
	if out.Queue == "" {
		out.Queue = "engagement.worker"
	}
	return out, nil
}

func BuildSMTPConfig(cfg *config.Config, log *zerolog.Logger) mailer.Config {
	out := mailer.Config{
		Host:     cfg.GetString("smtp.host"),
		Port:     cfg.GetString("smtp.port"),
		From:     cfg.GetString("smtp.from"),
		Password: cfg.GetString("smtp.password"),
	}
	if out.Host == "" || out.From == "" {
		log.Warn().Msg("smtp configuration incomplete, notification emails will fail")
	}
	if out.Port == "" {
		out.Port = "587"
	}
	return out
}

func BuildEngineConfig(cfg *config.Config) EngineConfig {
	out := EngineConfig{
		RetentionHours:     cfg.GetInt("engine.retention_hours"),
		SweepIntervalHours: cfg.GetInt("engine.sweep_interval_hours"),
	}
	if out.RetentionHours <= 0 {
		out.RetentionHours = 24 * 30
	}
	if out.SweepIntervalHours <= 0 {
		out.SweepIntervalHours = 6
	}
	return out
}
