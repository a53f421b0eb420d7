package rendezvous

// IdentityProvider authenticates local users.
//
// Login returns false if the request was not accepted (done will never be
// called). When it returns true, done is invoked exactly once on the
// controller's goroutine.
type IdentityProvider interface {
	Status(user LocalUser) LoginState
	Login(user LocalUser, creds Credentials, done func(LoginResult)) bool
}

// SessionProvider lists, advertises, joins and destroys session records.
//
// Every asynchronous method follows the same contract as
// IdentityProvider.Login: false means "not dispatched, no callback";
// true means exactly one callback on the controller's goroutine.
type SessionProvider interface {
	Create(user LocalUser, name string, settings SessionSettings, done func(name string, ok bool)) bool
	Search(user LocalUser, filter SearchFilter, done func(ok bool, results []SearchResult)) bool
	Join(user LocalUser, name string, result SearchResult, done func(name string, result JoinResult)) bool
	ResolveConnectAddress(name string) (string, bool)
	Destroy(name string, done func(name string, ok bool)) bool
}

// LevelLoader is the host application's scene loader.
type LevelLoader interface {
	OpenLevel(level string, options string)
}

// Traveler connects the local client to a remote host.
type Traveler interface {
	ClientTravel(address string)
}
