package bot

import (
	"fmt"

	bus "raffler/events"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"
)

// Config holds bot configuration
type Config struct {
	Token     string
	ChannelID string
}

// Bot owns the Discord session used for raffle announcements
type Bot struct {
	config    Config
	session   *discordgo.Session
	announcer *Announcer
}

// New opens a Discord session and subscribes the announcer to eventBus
func New(config Config, eventBus *bus.Bus) (*Bot, error) {
	dg, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds

	// Open websocket connection
	if err := dg.Open(); err != nil {
		return nil, fmt.Errorf("error opening connection: %w", err)
	}

	bot := &Bot{
		config:    config,
		session:   dg,
		announcer: NewAnnouncer(dg, config.ChannelID),
	}
	bot.announcer.SubscribeTo(eventBus)

	log.WithField("channel_id", config.ChannelID).Info("Discord announcer connected")
	return bot, nil
}

func (b *Bot) Close() error {
	return b.session.Close()
}
