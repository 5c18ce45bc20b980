package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/educativo/edubot/config"
	"github.com/educativo/edubot/internal/infrastructure/external/console"
	"github.com/educativo/edubot/internal/infrastructure/external/telegram"
	"github.com/educativo/edubot/internal/interface/chat"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADAPTERS
// These adapt the platform clients to chat.Transport.
// ══════════════════════════════════════════════════════════════════════════════

// consoleReceiver is the part of *console.Client the adapter needs.
type consoleReceiver interface {
	Receive(ctx context.Context) (console.Message, error)
	Send(ctx context.Context, channelID, text string) error
}

type consoleTransport struct {
	client consoleReceiver
}

func (t consoleTransport) Receive(ctx context.Context) (chat.Inbound, error) {
	msg, err := t.client.Receive(ctx)
	if err != nil {
		return chat.Inbound{}, err
	}
	return chat.Inbound{
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		ActorID:   msg.ActorID,
		Text:      msg.Text,
	}, nil
}

func (t consoleTransport) Send(ctx context.Context, channelID, text string) error {
	return t.client.Send(ctx, channelID, text)
}

// telegramReceiver is the part of *telegram.Client the adapter needs.
type telegramReceiver interface {
	Receive(ctx context.Context) (telegram.Incoming, error)
	Send(ctx context.Context, channelID, text string) error
}

type telegramTransport struct {
	client telegramReceiver
}

func (t telegramTransport) Receive(ctx context.Context) (chat.Inbound, error) {
	in, err := t.client.Receive(ctx)
	if err != nil {
		return chat.Inbound{}, err
	}
	return chat.Inbound{
		GuildID:   in.GuildID,
		ChannelID: in.ChannelID,
		ActorID:   in.ActorID,
		Text:      in.Text,
	}, nil
}

func (t telegramTransport) Send(ctx context.Context, channelID, text string) error {
	return t.client.Send(ctx, channelID, text)
}

// openTransport builds the configured chat transport. The telegram client
// is checked with getMe before the bot starts.
func openTransport(ctx context.Context, cfg *config.Config, log *slog.Logger) (chat.Transport, error) {
	switch cfg.Bot.Transport {
	case config.TransportConsole:
		consoleCfg := console.DefaultClientConfig()
		consoleCfg.Logger = log
		return consoleTransport{client: console.NewClient(consoleCfg, os.Stdin, os.Stdout)}, nil

	case config.TransportTelegram:
		tgCfg := telegram.DefaultClientConfig(cfg.Bot.TelegramToken)
		tgCfg.Logger = log
		tgCfg.Debug = cfg.App.Debug
		client, err := telegram.NewClient(tgCfg)
		if err != nil {
			return nil, err
		}
		me, err := client.GetMe(ctx)
		if err != nil {
			return nil, fmt.Errorf("telegram getMe: %w", err)
		}
		log.Info("telegram bot authorized", "username", me.Username, "bot_id", me.ID)
		return telegramTransport{client: client}, nil
	}

	return nil, fmt.Errorf("unknown transport %q", cfg.Bot.Transport)
}
