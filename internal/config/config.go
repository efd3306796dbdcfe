package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "Asia/Tokyo"
	configPathEnv   = "VULNDIGEST_CONFIG"

	lookbackDaysEnv  = "DIGEST_LOOKBACK_DAYS"
	postsPerDayEnv   = "POSTS_PER_DAY_LIMIT"
	stateFileEnv     = "DIGEST_STATE_FILE"
	databaseDSNEnv   = "DATABASE_DSN"
	secGeminiURLEnv  = "SEC_GEMINI_FEED_URL"
	nvdAPIKeyEnv     = "NVD_API_KEY"
	openAIKeyEnv     = "OPENAI_API_KEY"
	wpBaseURLEnv     = "WP_BASE_URL"
	wpUserEnv        = "WP_USER"
	wpAppPasswordEnv = "WP_APP_PASSWORD"
	telegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	telegramChatEnv  = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Digest    DigestConfig    `yaml:"digest"`
	State     StateConfig     `yaml:"state"`
	Feeds     FeedsConfig     `yaml:"feeds"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	WordPress WordPressConfig `yaml:"wordpress"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DigestConfig controls the publish-eligibility pipeline.
type DigestConfig struct {
	LookbackDays   int     `yaml:"lookbackDays"`
	PostsPerDay    int     `yaml:"postsPerDay"`
	CVSSThreshold  float64 `yaml:"cvssThreshold"`
	HeroImageURL   string  `yaml:"heroImageUrl"`
	ReportPath     string  `yaml:"reportPath"`
	Timezone       string  `yaml:"timezone"`
	location       *time.Location
}

// Location resolves the publication timezone used for the daily counter.
func (d DigestConfig) Location() *time.Location {
	if d.location != nil {
		return d.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// StateConfig selects and parameterizes the dedup state store backend.
type StateConfig struct {
	// Backend is "file" or "postgres".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

// FeedsConfig groups per-source endpoints and toggles.
type FeedsConfig struct {
	SecGemini SecGeminiConfig `yaml:"secGemini"`
	NVD       NVDConfig       `yaml:"nvd"`
	JVN       JVNConfig       `yaml:"jvn"`
	JPCERT    JPCERTConfig    `yaml:"jpcert"`
	KEV       KEVConfig       `yaml:"kev"`
	// Priority orders sources for deterministic merging; unlisted
	// sources sort after listed ones.
	Priority []string `yaml:"priority"`
}

// SecGeminiConfig points at the curated latest.json feed.
type SecGeminiConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// NVDConfig describes the NVD 2.0 API access.
type NVDConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"baseUrl"`
	APIKey     string `yaml:"apiKey"`
	MaxResults int    `yaml:"maxResults"`
}

// JVNConfig describes the MyJVN overview API.
type JVNConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"baseUrl"`
}

// JPCERTConfig points at the alert listing page scraped with goquery.
type JPCERTConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// KEVConfig lists the known-exploited catalog endpoints, tried in order.
type KEVConfig struct {
	URLs []string `yaml:"urls"`
}

// OpenAIConfig defines how to contact the summarization API.
type OpenAIConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// WordPressConfig wires the draft-publishing target.
type WordPressConfig struct {
	BaseURL     string `yaml:"baseUrl"`
	User        string `yaml:"user"`
	AppPassword string `yaml:"appPassword"`
}

// TelegramConfig wires the optional run-summary notification.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// SchedulerConfig defines the optional daemon-mode cron trigger.
type SchedulerConfig struct {
	Daemon         bool   `yaml:"daemon"`
	CronExpression string `yaml:"cronExpression"`
}

// LoggingConfig sets the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(lookbackDaysEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Digest.LookbackDays = n
		}
	}
	if v := os.Getenv(postsPerDayEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Digest.PostsPerDay = n
		}
	}
	if v := os.Getenv(stateFileEnv); v != "" {
		c.State.Path = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.State.DSN = v
	}
	if v := os.Getenv(secGeminiURLEnv); v != "" {
		c.Feeds.SecGemini.URL = v
	}
	if v := os.Getenv(nvdAPIKeyEnv); v != "" {
		c.Feeds.NVD.APIKey = v
	}
	if v := os.Getenv(openAIKeyEnv); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv(wpBaseURLEnv); v != "" {
		c.WordPress.BaseURL = v
	}
	if v := os.Getenv(wpUserEnv); v != "" {
		c.WordPress.User = v
	}
	if v := os.Getenv(wpAppPasswordEnv); v != "" {
		c.WordPress.AppPassword = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatEnv); v != "" {
		c.Telegram.ChatID = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Digest.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Digest.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Digest.LookbackDays > 0 {
		base.Digest.LookbackDays = override.Digest.LookbackDays
	}
	if override.Digest.PostsPerDay > 0 {
		base.Digest.PostsPerDay = override.Digest.PostsPerDay
	}
	if override.Digest.CVSSThreshold > 0 {
		base.Digest.CVSSThreshold = override.Digest.CVSSThreshold
	}
	if override.Digest.HeroImageURL != "" {
		base.Digest.HeroImageURL = override.Digest.HeroImageURL
	}
	if override.Digest.ReportPath != "" {
		base.Digest.ReportPath = override.Digest.ReportPath
	}
	if override.Digest.Timezone != "" {
		base.Digest.Timezone = override.Digest.Timezone
	}

	if override.State.Backend != "" {
		base.State.Backend = override.State.Backend
	}
	if override.State.Path != "" {
		base.State.Path = override.State.Path
	}
	if override.State.DSN != "" {
		base.State.DSN = override.State.DSN
	}

	if override.Feeds.SecGemini.URL != "" {
		base.Feeds.SecGemini = override.Feeds.SecGemini
	}
	if override.Feeds.NVD.BaseURL != "" || override.Feeds.NVD.Enabled {
		if override.Feeds.NVD.BaseURL == "" {
			override.Feeds.NVD.BaseURL = base.Feeds.NVD.BaseURL
		}
		if override.Feeds.NVD.MaxResults == 0 {
			override.Feeds.NVD.MaxResults = base.Feeds.NVD.MaxResults
		}
		base.Feeds.NVD = override.Feeds.NVD
	}
	if override.Feeds.JVN.BaseURL != "" || override.Feeds.JVN.Enabled {
		if override.Feeds.JVN.BaseURL == "" {
			override.Feeds.JVN.BaseURL = base.Feeds.JVN.BaseURL
		}
		base.Feeds.JVN = override.Feeds.JVN
	}
	if override.Feeds.JPCERT.URL != "" || override.Feeds.JPCERT.Enabled {
		if override.Feeds.JPCERT.URL == "" {
			override.Feeds.JPCERT.URL = base.Feeds.JPCERT.URL
		}
		base.Feeds.JPCERT = override.Feeds.JPCERT
	}
	if len(override.Feeds.KEV.URLs) > 0 {
		base.Feeds.KEV = override.Feeds.KEV
	}
	if len(override.Feeds.Priority) > 0 {
		base.Feeds.Priority = override.Feeds.Priority
	}

	if override.OpenAI.Endpoint != "" {
		base.OpenAI.Endpoint = override.OpenAI.Endpoint
	}
	if override.OpenAI.Model != "" {
		base.OpenAI.Model = override.OpenAI.Model
	}
	if override.OpenAI.APIKey != "" {
		base.OpenAI.APIKey = override.OpenAI.APIKey
	}
	if override.OpenAI.SystemPrompt != "" {
		base.OpenAI.SystemPrompt = override.OpenAI.SystemPrompt
	}

	if override.WordPress.BaseURL != "" {
		base.WordPress.BaseURL = override.WordPress.BaseURL
	}
	if override.WordPress.User != "" {
		base.WordPress.User = override.WordPress.User
	}
	if override.WordPress.AppPassword != "" {
		base.WordPress.AppPassword = override.WordPress.AppPassword
	}

	if override.Telegram.BotToken != "" {
		base.Telegram.BotToken = override.Telegram.BotToken
	}
	if override.Telegram.ChatID != "" {
		base.Telegram.ChatID = override.Telegram.ChatID
	}

	if override.Scheduler.Daemon {
		base.Scheduler.Daemon = true
	}
	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Digest: DigestConfig{
			LookbackDays:  7,
			PostsPerDay:   5,
			CVSSThreshold: 9.0,
			ReportPath:    "data/report.json",
			Timezone:      defaultTimezone,
			location:      tz,
		},
		State: StateConfig{
			Backend: "file",
			Path:    "data/processed.json",
		},
		Feeds: FeedsConfig{
			SecGemini: SecGeminiConfig{
				Enabled: true,
				URL:     "https://raw.githubusercontent.com/Teeeda112923/sec-gemini-main/main/output/latest.json",
			},
			NVD: NVDConfig{
				Enabled:    false,
				BaseURL:    "https://services.nvd.nist.gov/rest/json/cves/2.0",
				MaxResults: 200,
			},
			JVN: JVNConfig{
				Enabled: false,
				BaseURL: "https://jvndb.jvn.jp/myjvn",
			},
			JPCERT: JPCERTConfig{
				Enabled: false,
				URL:     "https://www.jpcert.or.jp/at/",
			},
			KEV: KEVConfig{
				URLs: []string{
					"https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json",
					"https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.csv",
				},
			},
			Priority: []string{"sec-gemini", "nvd", "jvn", "jpcert"},
		},
		OpenAI: OpenAIConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
			SystemPrompt: "あなたはサイバーセキュリティの専門アナリストです。" +
				"脆弱性情報を統合し、日本語で分かりやすく正確に要約してください。" +
				"必ず事実ベースのみで、推測は書かないこと。",
		},
		Scheduler: SchedulerConfig{
			Daemon:         false,
			CronExpression: "0 6 * * *",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
