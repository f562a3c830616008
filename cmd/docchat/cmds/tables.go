package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docchat/pkg/chatapi"
	"github.com/go-go-golems/docchat/pkg/chatsession"
)

// buildTableCommand turns a glaze command into a cobra command that reads
// its fields from flags, arguments and DOCCHAT_* variables.
func buildTableCommand(c cmds.GlazeCommand) *cobra.Command {
	cmd, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(tableMiddlewares))
	cobra.CheckErr(err)
	return cmd
}

func tableMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv("DOCCHAT",
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}

func outputSections() ([]cmds.CommandDescriptionOption, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	return []cmds.CommandDescriptionOption{cmds.WithSections(glazedSection, commandSettingsSection)}, nil
}

func chatRow(c chatapi.Chat) types.Row {
	return types.NewRow(
		types.MRP("id", c.ID),
		types.MRP("title", c.Title),
		types.MRP("message_count", c.MessageCount),
		types.MRP("created_at", formatTime(c.CreatedAt)),
		types.MRP("updated_at", formatTime(c.UpdatedAt)),
	)
}

func messageRow(m chatapi.Message) types.Row {
	return types.NewRow(
		types.MRP("id", m.ID),
		types.MRP("role", string(m.Role)),
		types.MRP("content", m.Content),
		types.MRP("timestamp", formatTime(m.Timestamp)),
	)
}

func statsRow(st chatapi.ChatStats) types.Row {
	return types.NewRow(
		types.MRP("total_chats", st.TotalChats),
		types.MRP("total_messages", st.TotalMessages),
		types.MRP("average_messages_per_chat", st.AverageMessagesPerChat),
	)
}

func documentRow(d chatapi.Document) types.Row {
	return types.NewRow(
		types.MRP("filename", d.Filename),
		types.MRP("size", d.Size),
		types.MRP("uploaded_at", formatTime(d.UploadedAt)),
	)
}

type ChatsListCommand struct {
	*cmds.CommandDescription
	g *Globals
}

func NewChatsListCommand(g *Globals) (*ChatsListCommand, error) {
	opts, err := outputSections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"list",
		append([]cmds.CommandDescriptionOption{
			cmds.WithShort("List chats, newest first"),
			cmds.WithLong("List chats from the service. When the service is unreachable the transcript cache is listed instead."),
		}, opts...)...,
	)
	return &ChatsListCommand{CommandDescription: desc, g: g}, nil
}

func (c *ChatsListCommand) RunIntoGlazeProcessor(ctx context.Context, _ *values.Values, gp middlewares.Processor) error {
	return listChats(ctx, c.g, gp)
}

func listChats(ctx context.Context, g *Globals, gp middlewares.Processor) error {
	l, closeStore, err := chatList(g)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := l.Load(ctx); err != nil {
		if len(l.Chats()) == 0 {
			return err
		}
		log.Warn().Err(err).Msg("showing cached chats")
	}
	for _, chat := range l.Chats() {
		if err := gp.AddRow(ctx, chatRow(chat)); err != nil {
			return err
		}
	}
	return nil
}

type ChatMessagesCommand struct {
	*cmds.CommandDescription
	g *Globals
}

type ChatMessagesSettings struct {
	ChatID string `glazed:"chat-id"`
	Limit  int    `glazed:"limit"`
	Offset int    `glazed:"offset"`
}

func NewChatMessagesCommand(g *Globals) (*ChatMessagesCommand, error) {
	opts, err := outputSections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"messages",
		append([]cmds.CommandDescriptionOption{
			cmds.WithShort("List the messages of a chat"),
			cmds.WithFlags(
				fields.New(
					"limit",
					fields.TypeInteger,
					fields.WithDefault(100),
					fields.WithHelp("Maximum number of messages"),
				),
				fields.New(
					"offset",
					fields.TypeInteger,
					fields.WithDefault(0),
					fields.WithHelp("Messages to skip"),
				),
			),
			cmds.WithArguments(
				fields.New(
					"chat-id",
					fields.TypeString,
					fields.WithHelp("Chat to read"),
					fields.WithRequired(true),
				),
			),
		}, opts...)...,
	)
	return &ChatMessagesCommand{CommandDescription: desc, g: g}, nil
}

func (c *ChatMessagesCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &ChatMessagesSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	return listMessages(ctx, c.g, s, gp)
}

func listMessages(ctx context.Context, g *Globals, s *ChatMessagesSettings, gp middlewares.Processor) error {
	gw, err := g.Gateway()
	if err != nil {
		return err
	}
	page, err := gw.GetChatMessages(ctx, s.ChatID, s.Limit, s.Offset)
	if err != nil {
		return err
	}
	for _, m := range page.Messages {
		if err := gp.AddRow(ctx, messageRow(m)); err != nil {
			return err
		}
	}
	return nil
}

type ChatStatsCommand struct {
	*cmds.CommandDescription
	g *Globals
}

type ChatStatsSettings struct {
	Realtime bool   `glazed:"realtime"`
	Timeout  string `glazed:"timeout"`
}

func NewChatStatsCommand(g *Globals) (*ChatStatsCommand, error) {
	opts, err := outputSections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"stats",
		append([]cmds.CommandDescriptionOption{
			cmds.WithShort("Print chat statistics"),
			cmds.WithFlags(
				fields.New(
					"realtime",
					fields.TypeBool,
					fields.WithDefault(false),
					fields.WithHelp("Ask over the realtime channel instead of HTTP"),
				),
				fields.New(
					"timeout",
					fields.TypeString,
					fields.WithDefault("10s"),
					fields.WithHelp("How long to wait for the realtime answer"),
				),
			),
		}, opts...)...,
	)
	return &ChatStatsCommand{CommandDescription: desc, g: g}, nil
}

func (c *ChatStatsCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &ChatStatsSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	return chatStats(ctx, c.g, s, gp)
}

func chatStats(ctx context.Context, g *Globals, s *ChatStatsSettings, gp middlewares.Processor) error {
	var (
		stats *chatapi.ChatStats
		err   error
	)
	if s.Realtime {
		timeout, perr := time.ParseDuration(s.Timeout)
		if perr != nil {
			return errors.Wrapf(perr, "invalid timeout %q", s.Timeout)
		}
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		stats, err = realtimeStats(rctx, g)
	} else {
		gw, gerr := g.Gateway()
		if gerr != nil {
			return gerr
		}
		stats, err = gw.ChatStats(ctx)
	}
	if err != nil {
		return err
	}
	return gp.AddRow(ctx, statsRow(*stats))
}

type DocumentsListCommand struct {
	*cmds.CommandDescription
	g *Globals
}

func NewDocumentsListCommand(g *Globals) (*DocumentsListCommand, error) {
	opts, err := outputSections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"list",
		append([]cmds.CommandDescriptionOption{
			cmds.WithShort("List uploaded documents"),
		}, opts...)...,
	)
	return &DocumentsListCommand{CommandDescription: desc, g: g}, nil
}

func (c *DocumentsListCommand) RunIntoGlazeProcessor(ctx context.Context, _ *values.Values, gp middlewares.Processor) error {
	return listDocuments(ctx, c.g, gp)
}

func listDocuments(ctx context.Context, g *Globals, gp middlewares.Processor) error {
	gw, err := g.Gateway()
	if err != nil {
		return err
	}
	docs := chatsession.NewDocuments(gw)
	if err := docs.Load(ctx); err != nil {
		return err
	}
	for _, d := range docs.Items() {
		if err := gp.AddRow(ctx, documentRow(d)); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ cmds.GlazeCommand = &ChatsListCommand{}
	_ cmds.GlazeCommand = &ChatMessagesCommand{}
	_ cmds.GlazeCommand = &ChatStatsCommand{}
	_ cmds.GlazeCommand = &DocumentsListCommand{}
)
