// Package session is the directory's in-memory store of advertised
// rendezvous records.
package session

import (
	"time"
)

// Settings is the advertised descriptor of a session, as published by its host.
type Settings struct {
	NumPublicConnections  int `json:"num_public_connections"`
	NumPrivateConnections int `json:"num_private_connections"`

	ShouldAdvertise      bool `json:"should_advertise"`
	AllowJoinInProgress  bool `json:"allow_join_in_progress"`
	AllowInvites         bool `json:"allow_invites"`
	UsesPresence         bool `json:"uses_presence"`
	AllowJoinViaPresence bool `json:"allow_join_via_presence"`
	UseLobbies           bool `json:"use_lobbies"`
	UseLobbiesVoiceChat  bool `json:"use_lobbies_voice_chat"`

	// Keyword is matched exactly by searches.
	Keyword string `json:"keyword"`
	// KeywordAdvertised is false for keywords published via ping only; those
	// are not searchable through the directory.
	KeywordAdvertised bool `json:"keyword_advertised"`
}

// Filter restricts a directory search.
type Filter struct {
	Keyword      string `json:"keyword"`
	PresenceOnly bool   `json:"presence_only"`
	LobbiesOnly  bool   `json:"lobbies_only"`
	MaxResults   int    `json:"max_results,omitempty"`
	// ExcludeOwner hides the searcher's own sessions.
	ExcludeOwner string `json:"exclude_owner,omitempty"`
}

// Session is one advertised rendezvous record.
type Session struct {
	// ID is a random UUID assigned by the directory
	ID string `json:"id"`

	// Name is the host's logical session slot name
	Name string `json:"name"`

	// OwnerID is the identity of the hosting user
	OwnerID string `json:"owner_id"`

	// HostAddress is the connect string handed to joining peers
	HostAddress string `json:"host_address"`

	Settings Settings `json:"settings"`

	// Members are the user IDs that joined, excluding the owner
	Members []string `json:"members,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OpenSlots is the number of public connections still free.
// The host occupies one public slot.
func (s *Session) OpenSlots() int {
	n := s.Settings.NumPublicConnections - 1 - len(s.Members)
	if n < 0 {
		return 0
	}
	return n
}

func (s *Session) hasMember(userID string) bool {
	for _, m := range s.Members {
		if m == userID {
			return true
		}
	}
	return false
}

func (s *Session) clone() *Session {
	c := *s
	c.Members = append([]string(nil), s.Members...)
	return &c
}

func (s *Session) matches(f Filter) bool {
	if !s.Settings.ShouldAdvertise || !s.Settings.KeywordAdvertised {
		return false
	}
	if f.Keyword != "" && s.Settings.Keyword != f.Keyword {
		return false
	}
	if f.PresenceOnly && !s.Settings.UsesPresence {
		return false
	}
	if f.LobbiesOnly && !s.Settings.UseLobbies {
		return false
	}
	if f.ExcludeOwner != "" && s.OwnerID == f.ExcludeOwner {
		return false
	}
	return s.OpenSlots() > 0
}
