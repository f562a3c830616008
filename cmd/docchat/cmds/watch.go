package cmds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/docchat/pkg/metrics"
	"github.com/go-go-golems/docchat/pkg/realtime"
	"github.com/go-go-golems/docchat/pkg/redisstream"
)

type watchSettings struct {
	Chats        []string
	RedisEnabled bool
	RedisAddr    string
	RedisStream  string
	MetricsAddr  string
}

func newWatchCommand(g *Globals) *cobra.Command {
	ws := &watchSettings{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream realtime events and republish them to a Watermill bus",
		Long: "Connects to the realtime channel, subscribes to the given chats and prints every " +
			"inbound event. Events are republished to Redis Streams when enabled, or to an " +
			"in-memory bus otherwise.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd.OutOrStdout(), g, ws, cmd.Flags().Changed("redis-enabled"))
		},
	}
	cmd.Flags().StringSliceVar(&ws.Chats, "chat", nil, "Chat ids to subscribe to")
	cmd.Flags().BoolVar(&ws.RedisEnabled, "redis-enabled", false, "Republish events to Redis Streams")
	cmd.Flags().StringVar(&ws.RedisAddr, "redis-addr", "", "Redis address (host:port)")
	cmd.Flags().StringVar(&ws.RedisStream, "redis-stream", "", "Stream (topic) events are published to")
	cmd.Flags().StringVar(&ws.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func (ws *watchSettings) redis(base redisstream.Settings, enabledSet bool) redisstream.Settings {
	s := base
	if enabledSet {
		s.Enabled = ws.RedisEnabled
	}
	if ws.RedisAddr != "" {
		s.Addr = ws.RedisAddr
	}
	if ws.RedisStream != "" {
		s.Stream = ws.RedisStream
	}
	return s
}

func runWatch(ctx context.Context, out io.Writer, g *Globals, ws *watchSettings, enabledSet bool) error {
	s, err := g.Settings()
	if err != nil {
		return err
	}
	rs := ws.redis(s.Redis, enabledSet)

	bus, err := redisstream.BuildBus(rs)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn().Err(err).Msg("closing event bus")
		}
	}()

	// subscribe before the tap publishes anything: the in-memory bus drops
	// messages nobody listens to
	msgs, err := bus.Subscriber.Subscribe(ctx, rs.Stream)
	if err != nil {
		return errors.Wrap(err, "subscribe to event bus")
	}

	conn, err := g.Conn()
	if err != nil {
		return err
	}
	tap := redisstream.NewTap(bus.Publisher, rs.Stream)
	tap.Attach(conn.Dispatcher())
	defer tap.Detach()

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Disconnect()
	for _, id := range ws.Chats {
		release := conn.Subscribe(id)
		defer release()
	}
	log.Info().
		Bool("redis", rs.Enabled).
		Str("stream", rs.Stream).
		Strs("chats", ws.Chats).
		Msg("watching realtime events")

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return printEnvelopes(ctx, out, msgs)
	})
	if ws.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              ws.MetricsAddr,
			Handler:           metricsRouter(conn),
			ReadHeaderTimeout: 10 * time.Second,
		}
		eg.Go(func() error {
			log.Info().Str("addr", ws.MetricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func metricsRouter(conn *realtime.Conn) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if !conn.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = fmt.Fprintln(w, conn.State())
	})
	return r
}

// printEnvelopes prints every message until ctx is done or msgs closes.
func printEnvelopes(ctx context.Context, out io.Writer, msgs <-chan *message.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			env, err := redisstream.DecodeEnvelope(msg)
			if err != nil {
				log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("skipping undecodable message")
				msg.Ack()
				continue
			}
			_, _ = fmt.Fprintf(out, "%s %-14s %s\n", env.ReceivedAt.Local().Format(time.TimeOnly), env.Event, string(env.Data))
			msg.Ack()
		}
	}
}
