package rendezvous

import (
	"errors"
	"fmt"
)

const (
	// DefaultSessionName is the logical session slot name.
	DefaultSessionName = "SessionName"
	// DefaultKeyword is the discovery keyword hosts advertise and searchers filter on.
	DefaultKeyword = "Custom"
	// DefaultLevel is loaded when hosting and when leaving a session.
	DefaultLevel = "/Game/ThirdPerson/Maps/ThirdPersonMap"

	// ListenOption is passed to OpenLevel when a host enters its level.
	ListenOption = "listen"
)

// Config holds per-controller settings.
type Config struct {
	// SessionName is the single session slot this controller manages.
	SessionName string
	// Keyword must match between hosts and searchers.
	Keyword string
	// MaxPlayers is the public capacity of hosted sessions.
	MaxPlayers int
	// MaxSearchResults caps FindSession results (0 = provider default).
	MaxSearchResults int

	LocalUser   LocalUser
	Credentials Credentials

	// HostLevel is opened in listen mode once a hosted session is live.
	HostLevel string
	// LobbyLevel is opened by KillSession.
	LobbyLevel string

	// RequireLogin rejects Host/Find/Join until the local user is logged in.
	RequireLogin bool
}

// DefaultConfig returns the stock lobby settings.
func DefaultConfig() Config {
	return Config{
		SessionName:  DefaultSessionName,
		Keyword:      DefaultKeyword,
		MaxPlayers:   4,
		HostLevel:    DefaultLevel,
		LobbyLevel:   DefaultLevel,
		RequireLogin: true,
	}
}

// Validate checks the config for values the controller cannot work with.
func (c Config) Validate() error {
	if c.SessionName == "" {
		return errors.New("session name is required")
	}
	if c.Keyword == "" {
		return errors.New("keyword is required")
	}
	if c.MaxPlayers <= 0 {
		return fmt.Errorf("max players must be positive, got %d", c.MaxPlayers)
	}
	if c.MaxSearchResults < 0 {
		return fmt.Errorf("max search results must not be negative, got %d", c.MaxSearchResults)
	}
	return nil
}

// hostSettings builds the advertised record for HostSession.
func (c Config) hostSettings() SessionSettings {
	return SessionSettings{
		NumPublicConnections:           c.MaxPlayers,
		NumPrivateConnections:          0,
		ShouldAdvertise:                true,
		AllowJoinInProgress:            true,
		AllowInvites:                   true,
		UsesPresence:                   true,
		AllowJoinViaPresence:           true,
		UseLobbiesIfAvailable:          true,
		UseLobbiesVoiceChatIfAvailable: true,
		Keyword:                        c.Keyword,
		KeywordAdvertisement:           ViaOnlineService,
	}
}

func (c Config) searchFilter() SearchFilter {
	return SearchFilter{
		PresenceOnly: true,
		LobbiesOnly:  true,
		Keyword:      c.Keyword,
		MaxResults:   c.MaxSearchResults,
	}
}
