package cmds

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docchat/pkg/chatapi"
	"github.com/go-go-golems/docchat/pkg/chatsession"
	"github.com/go-go-golems/docchat/pkg/realtime"
)

func newChatsCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List and manage chats",
	}
	list, err := NewChatsListCommand(g)
	cobra.CheckErr(err)
	messages, err := NewChatMessagesCommand(g)
	cobra.CheckErr(err)
	stats, err := NewChatStatsCommand(g)
	cobra.CheckErr(err)

	cmd.AddCommand(
		buildTableCommand(list),
		newChatsShowCommand(g),
		buildTableCommand(messages),
		newChatsCreateCommand(g),
		newChatsDeleteCommand(g),
		buildTableCommand(stats),
	)
	return cmd
}

// chatList builds a ChatList backed by the transcript cache when one is
// configured. The returned function closes the cache.
func chatList(g *Globals) (*chatsession.ChatList, func(), error) {
	gw, err := g.Gateway()
	if err != nil {
		return nil, nil, err
	}
	s, err := g.Settings()
	if err != nil {
		return nil, nil, err
	}
	store, err := g.Store()
	if err != nil {
		return nil, nil, err
	}
	opts := []chatsession.ChatListOption{chatsession.WithChatPageSize(s.ChatPageSize)}
	closeStore := func() {}
	if store != nil {
		opts = append(opts, chatsession.WithChatListStore(store))
		closeStore = func() { _ = store.Close() }
	}
	return chatsession.NewChatList(gw, opts...), closeStore, nil
}

func newChatsShowCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show the details of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := g.Gateway()
			if err != nil {
				return err
			}
			chat, err := gw.GetChat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), chat)
		},
	}
}

func newChatsCreateCommand(g *Globals) *cobra.Command {
	var metadata map[string]string
	cmd := &cobra.Command{
		Use:   "create TITLE",
		Short: "Create an empty chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := g.Gateway()
			if err != nil {
				return err
			}
			var meta map[string]any
			if len(metadata) > 0 {
				meta = make(map[string]any, len(metadata))
				for k, v := range metadata {
					meta[k] = v
				}
			}
			chat, err := gw.CreateChat(cmd.Context(), args[0], meta)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), chat.ID)
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "Metadata as key=value pairs")
	return cmd
}

func newChatsDeleteCommand(g *Globals) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a chat and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := confirm(fmt.Sprintf("Delete chat %s?", args[0]))
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			l, closeStore, err := chatList(g)
			if err != nil {
				return err
			}
			defer closeStore()
			if err := l.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			printNotice(cmd.ErrOrStderr(), "deleted chat %s", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func realtimeStats(ctx context.Context, g *Globals) (*chatapi.ChatStats, error) {
	conn, err := g.Conn()
	if err != nil {
		return nil, err
	}
	got := make(chan chatapi.ChatStats, 1)
	l := realtime.Listen(func(_ context.Context, ev realtime.Event) error {
		var st chatapi.ChatStatsPayload
		if err := ev.Decode(&st); err != nil {
			return err
		}
		select {
		case got <- st:
		default:
		}
		return nil
	})
	conn.Dispatcher().On(realtime.EventChatStats, l)
	defer conn.Dispatcher().Off(realtime.EventChatStats, l)

	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	defer conn.Disconnect()
	if err := conn.RequestChatStats(); err != nil {
		return nil, err
	}
	select {
	case st := <-got:
		return &st, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "waiting for chat_stats")
	}
}
