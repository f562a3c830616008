// Package config loads docchat settings from defaults, an optional YAML file,
// a .env file and the process environment, in that order.
package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/docchat/pkg/redisstream"
)

const (
	DefaultBaseURL    = "http://localhost:5000"
	DefaultSocketPath = "/socket.io/?EIO=4&transport=websocket"
)

type ReconnectSettings struct {
	MaxAttempts int           `yaml:"max-attempts"`
	BaseDelay   time.Duration `yaml:"base-delay"`
	MaxDelay    time.Duration `yaml:"max-delay"`
}

type UploadSettings struct {
	MaxFileSize        int64    `yaml:"max-file-size"`
	AcceptedMIMETypes  []string `yaml:"accepted-mime-types"`
	AcceptedExtensions []string `yaml:"accepted-extensions"`
}

type Settings struct {
	BaseURL          string               `yaml:"base-url"`
	SocketPath       string               `yaml:"socket-path"`
	RequestTimeout   time.Duration        `yaml:"request-timeout"`
	HandshakeTimeout time.Duration        `yaml:"handshake-timeout"`
	Reconnect        ReconnectSettings    `yaml:"reconnect"`
	MessagePageSize  int                  `yaml:"message-page-size"`
	ChatPageSize     int                  `yaml:"chat-page-size"`
	Upload           UploadSettings       `yaml:"upload"`
	CachePath        string               `yaml:"cache-path"`
	Redis            redisstream.Settings `yaml:"redis"`
	LogLevel         string               `yaml:"log-level"`
}

func Default() Settings {
	return Settings{
		BaseURL:          DefaultBaseURL,
		SocketPath:       DefaultSocketPath,
		RequestTimeout:   30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		Reconnect: ReconnectSettings{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		MessagePageSize: 100,
		ChatPageSize:    50,
		Upload: UploadSettings{
			MaxFileSize:        16 * 1024 * 1024,
			AcceptedMIMETypes:  []string{"application/pdf"},
			AcceptedExtensions: []string{".pdf"},
		},
		Redis:    redisstream.DefaultSettings(),
		LogLevel: "info",
	}
}

// Load builds Settings. path may be empty; a missing .env file is not an error.
func Load(path string) (Settings, error) {
	s := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(b, &s); err != nil {
			return Settings{}, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := godotenv.Load(); err != nil {
		log.Debug().Str("component", "config").Msg("no .env file found, relying on environment variables")
	}
	applyEnv(&s)

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func applyEnv(s *Settings) {
	if v := firstEnv("DOCCHAT_API_URL", "NEXT_PUBLIC_RAILWAY_API_URL"); v != "" {
		s.BaseURL = v
	}
	if v := os.Getenv("DOCCHAT_SOCKET_PATH"); v != "" {
		s.SocketPath = v
	}
	if v := os.Getenv("DOCCHAT_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.RequestTimeout = d
		} else {
			log.Warn().Err(err).Str("component", "config").Msg("ignoring DOCCHAT_REQUEST_TIMEOUT")
		}
	}
	if v := os.Getenv("DOCCHAT_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Reconnect.MaxAttempts = n
		}
	}
	if v := os.Getenv("DOCCHAT_CACHE_PATH"); v != "" {
		s.CachePath = v
	}
	if v := os.Getenv("DOCCHAT_REDIS_ADDR"); v != "" {
		s.Redis.Addr = v
		s.Redis.Enabled = true
	}
	if v := os.Getenv("DOCCHAT_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			return v
		}
	}
	return ""
}

func (s Settings) Validate() error {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return errors.Wrap(err, "invalid base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("base url %q must use http or https", s.BaseURL)
	}
	if u.Host == "" {
		return errors.Errorf("base url %q has no host", s.BaseURL)
	}
	if s.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if s.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect max attempts cannot be negative")
	}
	if s.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect base delay must be positive")
	}
	return nil
}

// APIURL joins the base URL with an endpoint path.
func (s Settings) APIURL(endpoint string) string {
	return strings.TrimRight(s.BaseURL, "/") + endpoint
}

// WebSocketURL returns the realtime channel address on the same host as the
// HTTP base URL.
func (s Settings) WebSocketURL() (string, error) {
	return WebSocketURL(s.BaseURL, s.SocketPath)
}

func WebSocketURL(baseURL, socketPath string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", errors.Wrap(err, "invalid base url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return u.String() + socketPath, nil
}
