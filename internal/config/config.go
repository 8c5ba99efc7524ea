// Package config loads all process configuration once at startup.
// Nothing else in the tree reads environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/osakana/kintai-bot/internal/bitable"
	"github.com/osakana/kintai-bot/internal/line"
	"github.com/osakana/kintai-bot/internal/notify"
)

// Config is the full application configuration.
type Config struct {
	Addr         string        // HTTP listen address
	DayOffset    time.Duration // fixed civil timezone offset for day bucketing
	JournalPath  string        // SQLite journal location
	LarkLogCalls bool          // emit a log line per store call
	Lark         bitable.Config
	Line         line.Config
	BreakTimeURL string // entry form link appended to End confirmations
	Notify       NotifyConfig
}

// NotifyConfig selects and configures the outbound notifier.
type NotifyConfig struct {
	Driver string // "line", "mail" or "none"
	Mail   notify.MailConfig
}

// Load reads configuration from the environment and an optional .env.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:        ":8080",
		DayOffset:   9 * time.Hour, // JST deployment default
		JournalPath: defaultJournalPath(),
		Lark:        bitable.DefaultConfig(),
		Line:        line.DefaultConfig(),
		Notify:      NotifyConfig{Driver: "line"},
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("KINTAI_TZ_OFFSET_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing KINTAI_TZ_OFFSET_MINUTES: %w", err)
		}
		cfg.DayOffset = time.Duration(n) * time.Minute
	}
	if v := os.Getenv("KINTAI_JOURNAL_DB"); v != "" {
		cfg.JournalPath = v
	}
	if v := os.Getenv("LARK_LOG_CALLS"); v != "" {
		cfg.LarkLogCalls, _ = strconv.ParseBool(v)
	}

	cfg.Lark.AppID = os.Getenv("LARK_APP_ID")
	cfg.Lark.AppSecret = os.Getenv("LARK_APP_SECRET")
	cfg.Lark.BaseID = os.Getenv("LARK_BASE_ID")
	cfg.Lark.TableID = os.Getenv("LARK_TABLE_ID")
	if v := os.Getenv("LARK_ENDPOINT"); v != "" {
		cfg.Lark.Endpoint = v
	}
	for name, val := range map[string]string{
		"LARK_APP_ID":     cfg.Lark.AppID,
		"LARK_APP_SECRET": cfg.Lark.AppSecret,
		"LARK_BASE_ID":    cfg.Lark.BaseID,
		"LARK_TABLE_ID":   cfg.Lark.TableID,
	} {
		if val == "" {
			return Config{}, fmt.Errorf("%s is required", name)
		}
	}

	cfg.Line.ChannelSecret = os.Getenv("LINE_CHANNEL_SECRET")
	cfg.Line.ChannelToken = os.Getenv("LINE_CHANNEL_ACCESS_TOKEN")
	if v := os.Getenv("LINE_ENDPOINT"); v != "" {
		cfg.Line.Endpoint = v
	}
	cfg.BreakTimeURL = os.Getenv("LIFF_URL_FOR_BREAK_TIME")

	if v := os.Getenv("NOTIFY_DRIVER"); v != "" {
		switch v {
		case "line", "mail", "none":
			cfg.Notify.Driver = v
		default:
			return Config{}, fmt.Errorf("unknown NOTIFY_DRIVER %q", v)
		}
	}
	if cfg.Notify.Driver == "mail" {
		mail, err := loadMailConfig()
		if err != nil {
			return Config{}, err
		}
		cfg.Notify.Mail = mail
	}

	return cfg, nil
}

func loadMailConfig() (notify.MailConfig, error) {
	cfg := notify.MailConfig{
		Host:     os.Getenv("MAIL_HOST"),
		Username: os.Getenv("MAIL_USER"),
		Password: os.Getenv("MAIL_PASS"),
		From:     os.Getenv("MAIL_FROM"),
		Subject:  os.Getenv("MAIL_SUBJECT"),
	}
	if cfg.Host == "" {
		return notify.MailConfig{}, fmt.Errorf("MAIL_HOST is required for the mail notifier")
	}
	port, err := strconv.Atoi(os.Getenv("MAIL_PORT"))
	if err != nil {
		return notify.MailConfig{}, fmt.Errorf("parsing MAIL_PORT: %w", err)
	}
	cfg.Port = port
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.Subject == "" {
		cfg.Subject = "勤怠記録"
	}
	for _, to := range strings.Split(os.Getenv("MAIL_TO"), ",") {
		if to = strings.TrimSpace(to); to != "" {
			cfg.To = append(cfg.To, to)
		}
	}
	if len(cfg.To) == 0 {
		return notify.MailConfig{}, fmt.Errorf("MAIL_TO is required for the mail notifier")
	}
	return cfg, nil
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "kintai-journal.db"
	}
	return filepath.Join(home, ".kintai", "journal.db")
}
