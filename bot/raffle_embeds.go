package bot

import (
	"fmt"

	"raffler/bot/common"
	domainevents "raffler/domain/events"

	"github.com/bwmarrin/discordgo"
)

// Embed colors
const (
	ColorPrimary = 0x5865F2 // Discord blurple
	ColorSuccess = 0x57F287 // Green
	ColorWarning = 0xFEE75C // Yellow
)

// CreateDrawRequestedEmbed announces that entry has closed and a draw is pending
func CreateDrawRequestedEmbed(event domainevents.DrawRequestedEvent) *discordgo.MessageEmbed {
	title := "🎟️ Raffle Closed"
	color := ColorPrimary
	description := "Entries are closed. Waiting for randomness to pick a winner."
	if event.Redraw {
		title = "🔁 Raffle Redraw"
		color = ColorWarning
		description = "The previous draw timed out. Randomness has been requested again."
	}

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Round",
				Value:  fmt.Sprintf("#%d", event.RoundID),
				Inline: true,
			},
			{
				Name:   "Players",
				Value:  fmt.Sprintf("%d", event.PlayerCount),
				Inline: true,
			},
			{
				Name:   "Pool",
				Value:  fmt.Sprintf("%s bits", common.FormatBalance(event.PoolBalance)),
				Inline: true,
			},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Request %d", event.RequestID),
		},
	}
}

// CreateWinnerPickedEmbed announces the winner of a completed round
func CreateWinnerPickedEmbed(event domainevents.WinnerPickedEvent) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "🏆 Raffle Winner",
		Description: fmt.Sprintf("%s won **%s bits**!",
			common.FormatParticipant(event.Winner), common.FormatBalance(event.Amount)),
		Color: ColorSuccess,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Round",
				Value:  fmt.Sprintf("#%d", event.RoundID),
				Inline: true,
			},
			{
				Name:   "Players",
				Value:  fmt.Sprintf("%d", event.PlayerCount),
				Inline: true,
			},
			{
				Name:   "Winning slot",
				Value:  fmt.Sprintf("%d", event.WinnerIndex),
				Inline: true,
			},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Round #%d is now open", event.NextRoundID),
		},
	}
}
