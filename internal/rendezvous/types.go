// Package rendezvous implements the session handshake state machine:
// authenticate a local user, advertise or discover a session record, and
// converge on exactly one peer connection.
//
// A Controller is a single logical actor. All of its methods, and all
// completion callbacks handed to its providers, must run on the same
// goroutine (see package eventloop).
package rendezvous

// LocalUser identifies a local player slot (a controller index).
type LocalUser int

// UserID is the opaque identifier issued by the identity provider.
type UserID string

// LoginState is the login status of a local user.
type LoginState int

const (
	NotLoggedIn LoginState = iota
	LoggingIn
	LoggedIn
)

func (s LoginState) String() string {
	switch s {
	case NotLoggedIn:
		return "NotLoggedIn"
	case LoggingIn:
		return "LoggingIn"
	case LoggedIn:
		return "LoggedIn"
	default:
		return "Unknown"
	}
}

// SessionState is the session sub-state of a controller.
type SessionState int

const (
	NoSession SessionState = iota
	Hosting
	Searching
	Joining
	SessionActive
	Leaving
)

func (s SessionState) String() string {
	switch s {
	case NoSession:
		return "NoSession"
	case Hosting:
		return "Hosting"
	case Searching:
		return "Searching"
	case Joining:
		return "Joining"
	case SessionActive:
		return "SessionActive"
	case Leaving:
		return "Leaving"
	default:
		return "Unknown"
	}
}

// Credentials are passed through to the identity provider untouched.
// An empty Type lets the provider pick its default login method.
type Credentials struct {
	Type  string
	ID    string
	Token string `json:"-"`
}

// LoginResult is delivered once per accepted login request.
type LoginResult struct {
	OK     bool
	UserID UserID
	Err    error
}

// Advertisement controls how a session setting is published.
type Advertisement int

const (
	DontAdvertise Advertisement = iota
	ViaPingOnly
	ViaOnlineService
)

// SessionSettings is the advertised rendezvous record.
type SessionSettings struct {
	NumPublicConnections  int
	NumPrivateConnections int

	ShouldAdvertise                bool
	AllowJoinInProgress            bool
	AllowInvites                   bool
	UsesPresence                   bool
	AllowJoinViaPresence           bool
	UseLobbiesIfAvailable          bool
	UseLobbiesVoiceChatIfAvailable bool

	// Keyword is the rendezvous key shared by hosts and searchers.
	Keyword              string
	KeywordAdvertisement Advertisement
}

// SearchFilter restricts a session search.
type SearchFilter struct {
	PresenceOnly bool
	LobbiesOnly  bool
	Keyword      string
	MaxResults   int
}

// SearchResult is one discovered session.
type SearchResult struct {
	SessionID string
	OwnerID   UserID
	Settings  SessionSettings
	OpenSlots int
	// PingMS is the measured latency, 0 when the provider does not probe.
	PingMS int
}

// Valid reports whether the result can be joined at all.
func (r SearchResult) Valid() bool {
	return r.SessionID != ""
}

// JoinResult is the outcome of a join request.
type JoinResult int

const (
	JoinSuccess JoinResult = iota
	JoinAlreadyInSession
	JoinSessionDoesNotExist
	JoinSessionIsFull
	JoinCouldNotRetrieveAddress
	JoinUnknownError
)

func (r JoinResult) String() string {
	switch r {
	case JoinSuccess:
		return "Success"
	case JoinAlreadyInSession:
		return "AlreadyInSession"
	case JoinSessionDoesNotExist:
		return "SessionDoesNotExist"
	case JoinSessionIsFull:
		return "SessionIsFull"
	case JoinCouldNotRetrieveAddress:
		return "CouldNotRetrieveAddress"
	default:
		return "UnknownError"
	}
}

// SearchPhase tags the controller's cached search result set.
type SearchPhase int

const (
	SearchIdle SearchPhase = iota
	SearchInFlight
	SearchReady
)

// SearchState is the cached result of the most recent FindSession.
// Results are only meaningful when Phase is SearchReady, and only for the
// Generation they were produced by.
type SearchState struct {
	Phase      SearchPhase
	Generation uint64
	Results    []SearchResult
}

func (s SearchState) contains(r SearchResult) bool {
	if s.Phase != SearchReady {
		return false
	}
	for _, candidate := range s.Results {
		if candidate.SessionID == r.SessionID {
			return true
		}
	}
	return false
}

// AttemptState tracks a single join-and-travel.
type AttemptState int

const (
	AttemptNone AttemptState = iota
	AttemptPending
	AttemptResolved
	AttemptTraveled
	AttemptFailed
)

func (s AttemptState) String() string {
	switch s {
	case AttemptNone:
		return "None"
	case AttemptPending:
		return "Pending"
	case AttemptResolved:
		return "Resolved"
	case AttemptTraveled:
		return "Traveled"
	case AttemptFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ConnectionAttempt is the outcome of the latest join.
type ConnectionAttempt struct {
	State     AttemptState
	SessionID string
	Result    JoinResult
	Address   string
}
