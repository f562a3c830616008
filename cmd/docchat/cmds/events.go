package cmds

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docchat/pkg/redisstream"
)

func newEventsCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Consume events republished by watch",
	}

	var (
		addr     string
		stream   string
		group    string
		consumer string
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Follow the Redis stream written by watch --redis-enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.Settings()
			if err != nil {
				return err
			}
			rs := s.Redis
			if addr != "" {
				rs.Addr = addr
			}
			if stream != "" {
				rs.Stream = stream
			}
			if group == "" {
				group = rs.Group + "-tail"
			}
			if consumer == "" {
				consumer = rs.Consumer
			}

			ctx := cmd.Context()
			// start at the tail so a new group does not replay history
			if err := redisstream.EnsureGroupAtTail(ctx, rs.Addr, rs.Stream, group); err != nil {
				return errors.Wrap(err, "create consumer group")
			}
			sub, err := redisstream.BuildGroupSubscriber(rs.Addr, group, consumer)
			if err != nil {
				return errors.Wrap(err, "redis subscriber")
			}
			defer func() { _ = sub.Close() }()

			msgs, err := sub.Subscribe(ctx, rs.Stream)
			if err != nil {
				return errors.Wrap(err, "subscribe")
			}
			log.Info().Str("addr", rs.Addr).Str("stream", rs.Stream).Str("group", group).Msg("tailing events")
			return printEnvelopes(ctx, cmd.OutOrStdout(), msgs)
		},
	}
	tail.Flags().StringVar(&addr, "redis-addr", "", "Redis address (host:port)")
	tail.Flags().StringVar(&stream, "redis-stream", "", "Stream to read")
	tail.Flags().StringVar(&group, "group", "", "Consumer group (default: <configured group>-tail)")
	tail.Flags().StringVar(&consumer, "consumer", "", "Consumer name")

	cmd.AddCommand(tail)
	return cmd
}
