package session

import "github.com/aussiebroadwan/kombipay/pkg/authsdk"

// User is the authenticated passenger.
type User = authsdk.User

// Session is the credential set of the current user. User and AccessToken
// are either both set or both empty; RefreshToken is only set alongside an
// access token.
type Session struct {
	User         *User
	AccessToken  string
	RefreshToken string
}

// Authenticated reports whether the session carries a user and an access
// token.
func (s Session) Authenticated() bool {
	return s.User != nil && s.AccessToken != ""
}

// Empty reports whether nothing is set.
func (s Session) Empty() bool {
	return s.User == nil && s.AccessToken == "" && s.RefreshToken == ""
}

// Valid reports whether the session is either empty or fully authenticated.
func (s Session) Valid() bool {
	return s.Empty() || s.Authenticated()
}

// clone returns a deep copy so callers cannot reach the Manager's user.
func (s Session) clone() Session {
	if s.User != nil {
		u := cloneUser(*s.User)
		s.User = &u
	}
	return s
}

func cloneUser(u User) User {
	if u.Balance != nil {
		b := *u.Balance
		u.Balance = &b
	}
	return u
}

// PendingVerification is an account waiting for OTP confirmation.
type PendingVerification struct {
	Email string
}

// Snapshot is everything a Store persists.
type Snapshot struct {
	Session
	PendingEmail string
}

// Valid reports whether the snapshot could have been produced by a Manager:
// a valid session, and a pending email only when nobody is logged in.
func (s Snapshot) Valid() bool {
	if !s.Session.Valid() {
		return false
	}
	return s.PendingEmail == "" || s.Session.Empty()
}

// State is the state of the session state machine.
type State int

const (
	StateAnonymous State = iota
	StatePendingOTP
	StateAuthenticated

	// StateRefreshing is Authenticated with a refresh ticket outstanding.
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StatePendingOTP:
		return "pending_otp"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// hasCredentials reports whether requests in this state carry a token.
func (s State) hasCredentials() bool {
	return s == StateAuthenticated || s == StateRefreshing
}
