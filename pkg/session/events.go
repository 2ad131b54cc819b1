package session

// Event is something the session layer tells the UI about. The layer never
// formats user-facing text; observers decide how to present events.
type Event interface {
	event()
}

// EventStateChanged is emitted on every state transition.
type EventStateChanged struct {
	From State
	To   State
}

// EventLoginSucceeded carries the user that just logged in.
type EventLoginSucceeded struct {
	User User
}

// EventLoginFailed carries the error a login failed with, OTP required
// excluded.
type EventLoginFailed struct {
	Err error
}

// EventOTPRequired is emitted when a login needs OTP confirmation for Email.
type EventOTPRequired struct {
	Email string
}

// EventSessionExpired is emitted when a failed refresh ended the session.
type EventSessionExpired struct{}

// EventLoggedOut is emitted when an explicit logout ended a session.
type EventLoggedOut struct{}

func (EventStateChanged) event()   {}
func (EventLoginSucceeded) event() {}
func (EventLoginFailed) event()    {}
func (EventOTPRequired) event()    {}
func (EventSessionExpired) event() {}
func (EventLoggedOut) event()      {}

// Observer receives events. OnEvent runs on the goroutine that caused the
// event, after the Manager released its lock, and must not block for long.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }
