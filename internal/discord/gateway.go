package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/Resona/pkg/logging"
)

// Gateway adapts a discordgo session to the narrow interfaces the
// lifecycle core consumes: channel rosters, fire-and-forget notices and
// channel existence checks.
type Gateway struct {
	session *discordgo.Session
	log     logging.Logger
}

// NewGateway creates a gateway adapter
func NewGateway(session *discordgo.Session, log logging.Logger) *Gateway {
	return &Gateway{session: session, log: log}
}

// HumanCount returns the number of non-bot members currently in the
// given voice channel
func (g *Gateway) HumanCount(guildID, channelID string) int {
	guild, err := g.session.State.Guild(guildID)
	if err != nil {
		g.log.Warn("guild not in state cache",
			logging.String("guild", guildID), logging.Error(err))
		return 0
	}

	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		if g.isBot(guildID, vs.UserID) {
			continue
		}
		count++
	}
	return count
}

func (g *Gateway) isBot(guildID, userID string) bool {
	member, err := g.session.State.Member(guildID, userID)
	if err != nil {
		member, err = g.session.GuildMember(guildID, userID)
		if err != nil {
			// Unknown members count as humans; wrongly treating a human
			// as a bot could tear a session down under people.
			return false
		}
	}
	return member.User != nil && member.User.Bot
}

// Notify sends a message to the channel. Failures are logged only.
func (g *Gateway) Notify(channelID, message string) {
	if channelID == "" {
		return
	}
	if _, err := g.session.ChannelMessageSend(channelID, message); err != nil {
		g.log.Warn("failed to send notice",
			logging.String("channel", channelID), logging.Error(err))
	}
}

// ChannelExists reports whether the channel still exists
func (g *Gateway) ChannelExists(channelID string) bool {
	if channelID == "" {
		return false
	}
	if _, err := g.session.State.Channel(channelID); err == nil {
		return true
	}
	_, err := g.session.Channel(channelID)
	return err == nil
}
