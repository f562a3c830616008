// Package cmds holds the cobra commands of the docchat CLI.
package cmds

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-go-golems/docchat/pkg/config"
	"github.com/go-go-golems/docchat/pkg/gateway"
	"github.com/go-go-golems/docchat/pkg/persistence/transcriptstore"
	"github.com/go-go-golems/docchat/pkg/realtime"
)

// Globals are the persistent flags shared by every command.
type Globals struct {
	ConfigPath string
	BaseURL    string
	LogLevel   string
	WithCaller bool

	settings *config.Settings
}

func (g *Globals) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&g.ConfigPath, "config", "", "YAML config file")
	fs.StringVar(&g.BaseURL, "base-url", "", "Base URL of the document-chat service")
	fs.StringVar(&g.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.BoolVar(&g.WithCaller, "with-caller", false, "Log caller information")
}

// InitLogger configures the global zerolog logger on stderr. Colour is only
// used when stderr is a terminal.
func (g *Globals) InitLogger() error {
	level := g.LogLevel
	if level == "" {
		level = os.Getenv("DOCCHAT_LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}
	ctx := zerolog.New(out).With().Timestamp()
	if g.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}

// Settings loads the configuration once and applies flag overrides.
func (g *Globals) Settings() (config.Settings, error) {
	if g.settings != nil {
		return *g.settings, nil
	}
	s, err := config.Load(g.ConfigPath)
	if err != nil {
		return config.Settings{}, err
	}
	if g.BaseURL != "" {
		s.BaseURL = g.BaseURL
		if err := s.Validate(); err != nil {
			return config.Settings{}, err
		}
	}
	if g.LogLevel == "" && s.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(s.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}
	g.settings = &s
	return s, nil
}

func (g *Globals) Gateway() (*gateway.Client, error) {
	s, err := g.Settings()
	if err != nil {
		return nil, err
	}
	return gateway.New(s.BaseURL,
		gateway.WithTimeout(s.RequestTimeout),
		gateway.WithUploadPolicy(gateway.UploadPolicy{
			MaxFileSize:        s.Upload.MaxFileSize,
			AcceptedMIMETypes:  s.Upload.AcceptedMIMETypes,
			AcceptedExtensions: s.Upload.AcceptedExtensions,
		}),
	)
}

// Conn builds the realtime connection. It is not connected yet.
func (g *Globals) Conn() (*realtime.Conn, error) {
	s, err := g.Settings()
	if err != nil {
		return nil, err
	}
	wsURL, err := s.WebSocketURL()
	if err != nil {
		return nil, err
	}
	opts := realtime.DefaultOptions(wsURL)
	opts.MaxAttempts = s.Reconnect.MaxAttempts
	opts.BaseDelay = s.Reconnect.BaseDelay
	if s.Reconnect.MaxDelay > 0 {
		opts.MaxDelay = s.Reconnect.MaxDelay
	}
	if s.HandshakeTimeout > 0 {
		opts.HandshakeTimeout = s.HandshakeTimeout
	}
	logger := log.With().Str("component", "realtime").Str("url", wsURL).Logger()
	return realtime.NewConn(opts, realtime.NewDispatcher(), realtime.WithLogger(logger)), nil
}

// Store opens the transcript cache, or returns nil when no cache path is set.
func (g *Globals) Store() (transcriptstore.Store, error) {
	s, err := g.Settings()
	if err != nil {
		return nil, err
	}
	if s.CachePath == "" {
		return nil, nil
	}
	dsn, err := transcriptstore.SQLiteDSNForFile(s.CachePath)
	if err != nil {
		return nil, err
	}
	store, err := transcriptstore.NewSQLiteStore(dsn)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Register adds every docchat command to root.
func Register(root *cobra.Command, g *Globals) {
	root.AddCommand(
		newAskCommand(g),
		newChatsCommand(g),
		newDocumentsCommand(g),
		newHealthCommand(g),
		newWatchCommand(g),
		newEventsCommand(g),
		newChatCommand(g),
	)
}
