package bot

import (
	"context"

	domainevents "raffler/domain/events"
	bus "raffler/events"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"
)

// ChannelSender is the part of a discordgo session used for announcements
type ChannelSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Announcer posts draw progress to a Discord channel
type Announcer struct {
	sender    ChannelSender
	channelID string
}

// NewAnnouncer creates an announcer posting to channelID
func NewAnnouncer(sender ChannelSender, channelID string) *Announcer {
	return &Announcer{
		sender:    sender,
		channelID: channelID,
	}
}

// SubscribeTo registers the announcer on the event bus
func (a *Announcer) SubscribeTo(b *bus.Bus) {
	b.Subscribe(domainevents.EventTypeDrawRequested, a.HandleEvent)
	b.Subscribe(domainevents.EventTypeWinnerPicked, a.HandleEvent)
}

// HandleEvent posts an embed for draw events and ignores everything else
func (a *Announcer) HandleEvent(ctx context.Context, event bus.Event) {
	var embed *discordgo.MessageEmbed
	switch e := event.(type) {
	case domainevents.DrawRequestedEvent:
		embed = CreateDrawRequestedEmbed(e)
	case domainevents.WinnerPickedEvent:
		embed = CreateWinnerPickedEmbed(e)
	default:
		return
	}

	if _, err := a.sender.ChannelMessageSendEmbed(a.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		log.WithFields(log.Fields{
			"channel_id": a.channelID,
			"event_type": event.Type(),
		}).WithError(err).Error("Failed to post raffle announcement")
	}
}
