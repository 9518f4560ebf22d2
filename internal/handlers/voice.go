package handlers

import (
	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/Resona/pkg/voice"
)

// RegisterVoiceHandler routes gateway voice-state updates to the churn watcher
func RegisterVoiceHandler(session *discordgo.Session, watcher *voice.Watcher) {
	session.AddHandler(func(_ *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		watcher.OnVoiceStateUpdate(vs)
	})
}
