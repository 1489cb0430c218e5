package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig HTTP server settings
type ServerConfig struct {
	Port        int
	CORSOrigins string
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// SupabaseConfig backend project settings
type SupabaseConfig struct {
	URL        string
	AnonKey    string
	ServiceKey string
	JWTSecret  string // Signs operator access tokens
}

// SenderConfig send-message endpoint settings
type SenderConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// InboxConfig tunes the conversation view and chat list
type InboxConfig struct {
	PageSize           int
	ContactsPageSize   int
	ConversationWindow time.Duration
	BadgeCacheTTL      time.Duration
	BroadcastDebounce  time.Duration
}

// Config is the full server configuration
type Config struct {
	Server      ServerConfig
	DatabaseURL string
	RedisAddr   string // Empty keeps the badge cache in memory
	LogLevel    string
	Supabase    SupabaseConfig
	Sender      SenderConfig
	Inbox       InboxConfig
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: "http://localhost:3000",
		},
		LogLevel: "info",
		Sender: SenderConfig{
			Timeout: 30 * time.Second,
		},
		Inbox: InboxConfig{
			PageSize:           1000,
			ContactsPageSize:   50,
			ConversationWindow: 24 * time.Hour,
			BadgeCacheTTL:      30 * time.Second,
			BroadcastDebounce:  2 * time.Second,
		},
	}
}

// Load reads an optional .env file and the process environment on top of
// the defaults.
func Load(envFiles ...string) (*Config, error) {
	// A missing .env is fine, the environment may already be set
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v, DefaultConfig())
	return fromViper(v)
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("PORT", d.Server.Port)
	v.SetDefault("CORS_ORIGINS", d.Server.CORSOrigins)
	v.SetDefault("LOG_LEVEL", d.LogLevel)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("SUPABASE_URL", "")
	v.SetDefault("SUPABASE_ANON_KEY", "")
	v.SetDefault("SUPABASE_SERVICE_KEY", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("SEND_MESSAGE_URL", "")
	v.SetDefault("SEND_MESSAGE_TOKEN", "")
	v.SetDefault("SEND_TIMEOUT", d.Sender.Timeout)
	v.SetDefault("PAGE_SIZE", d.Inbox.PageSize)
	v.SetDefault("CONTACTS_PAGE_SIZE", d.Inbox.ContactsPageSize)
	v.SetDefault("CONVERSATION_WINDOW", d.Inbox.ConversationWindow)
	v.SetDefault("BADGE_CACHE_TTL", d.Inbox.BadgeCacheTTL)
	v.SetDefault("BROADCAST_DEBOUNCE", d.Inbox.BroadcastDebounce)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetInt("PORT"),
			CORSOrigins: v.GetString("CORS_ORIGINS"),
		},
		DatabaseURL: v.GetString("DATABASE_URL"),
		RedisAddr:   v.GetString("REDIS_ADDR"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		Supabase: SupabaseConfig{
			URL:        strings.TrimRight(v.GetString("SUPABASE_URL"), "/"),
			AnonKey:    v.GetString("SUPABASE_ANON_KEY"),
			ServiceKey: v.GetString("SUPABASE_SERVICE_KEY"),
			JWTSecret:  v.GetString("JWT_SECRET"),
		},
		Sender: SenderConfig{
			URL:     v.GetString("SEND_MESSAGE_URL"),
			Token:   v.GetString("SEND_MESSAGE_TOKEN"),
			Timeout: v.GetDuration("SEND_TIMEOUT"),
		},
		Inbox: InboxConfig{
			PageSize:           v.GetInt("PAGE_SIZE"),
			ContactsPageSize:   v.GetInt("CONTACTS_PAGE_SIZE"),
			ConversationWindow: v.GetDuration("CONVERSATION_WINDOW"),
			BadgeCacheTTL:      v.GetDuration("BADGE_CACHE_TTL"),
			BroadcastDebounce:  v.GetDuration("BROADCAST_DEBOUNCE"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the server misbehave
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	if c.Inbox.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive")
	}
	if c.Inbox.ContactsPageSize <= 0 {
		return fmt.Errorf("CONTACTS_PAGE_SIZE must be positive")
	}
	if c.Inbox.ConversationWindow <= 0 {
		return fmt.Errorf("CONVERSATION_WINDOW must be positive")
	}
	if c.Sender.Timeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive")
	}
	return nil
}

// RealtimeURL is the websocket endpoint of the backend's change feed
func (c *Config) RealtimeURL() string {
	u := c.Supabase.URL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/realtime/v1/websocket"
}
