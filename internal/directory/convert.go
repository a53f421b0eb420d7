package directory

import (
	"github.com/al-bashkir/session-rendezvous/internal/rendezvous"
	"github.com/al-bashkir/session-rendezvous/internal/session"
)

func toWireSettings(s rendezvous.SessionSettings) session.Settings {
	return session.Settings{
		NumPublicConnections:  s.NumPublicConnections,
		NumPrivateConnections: s.NumPrivateConnections,
		ShouldAdvertise:       s.ShouldAdvertise,
		AllowJoinInProgress:   s.AllowJoinInProgress,
		AllowInvites:          s.AllowInvites,
		UsesPresence:          s.UsesPresence,
		AllowJoinViaPresence:  s.AllowJoinViaPresence,
		UseLobbies:            s.UseLobbiesIfAvailable,
		UseLobbiesVoiceChat:   s.UseLobbiesVoiceChatIfAvailable,
		Keyword:               s.Keyword,
		KeywordAdvertised:     s.KeywordAdvertisement == rendezvous.ViaOnlineService,
	}
}

func fromWireSettings(s session.Settings) rendezvous.SessionSettings {
	adv := rendezvous.DontAdvertise
	switch {
	case s.KeywordAdvertised:
		adv = rendezvous.ViaOnlineService
	case s.Keyword != "":
		adv = rendezvous.ViaPingOnly
	}

	return rendezvous.SessionSettings{
		NumPublicConnections:           s.NumPublicConnections,
		NumPrivateConnections:          s.NumPrivateConnections,
		ShouldAdvertise:                s.ShouldAdvertise,
		AllowJoinInProgress:            s.AllowJoinInProgress,
		AllowInvites:                   s.AllowInvites,
		UsesPresence:                   s.UsesPresence,
		AllowJoinViaPresence:           s.AllowJoinViaPresence,
		UseLobbiesIfAvailable:          s.UseLobbies,
		UseLobbiesVoiceChatIfAvailable: s.UseLobbiesVoiceChat,
		Keyword:                        s.Keyword,
		KeywordAdvertisement:           adv,
	}
}

func toWireFilter(f rendezvous.SearchFilter, excludeOwner string) session.Filter {
	return session.Filter{
		Keyword:      f.Keyword,
		PresenceOnly: f.PresenceOnly,
		LobbiesOnly:  f.LobbiesOnly,
		MaxResults:   f.MaxResults,
		ExcludeOwner: excludeOwner,
	}
}

// toSearchResult converts a directory record. The directory does not
// probe latency, so PingMS stays 0.
func toSearchResult(s *session.Session) rendezvous.SearchResult {
	return rendezvous.SearchResult{
		SessionID: s.ID,
		OwnerID:   rendezvous.UserID(s.OwnerID),
		Settings:  fromWireSettings(s.Settings),
		OpenSlots: s.OpenSlots(),
	}
}
