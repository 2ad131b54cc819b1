// Package session owns the authenticated session of the KombiPay app.
//
// # Overview
//
// A Manager is the session state machine. It holds the in-memory Session,
// persists every transition through a Store and notifies Observers. A
// Pipeline issues authenticated HTTP requests on behalf of the Manager: it
// attaches the access token, and when the server answers 401 it refreshes
// the token pair once for every concurrent caller before retrying.
//
// # States
//
//	Anonymous ──login──▶ Authenticated ──401──▶ Refreshing ──ok──▶ Authenticated
//	    │                      ▲                    │
//	    └─login needs OTP─▶ PendingOTP              └─fail──▶ Anonymous
//
// Logout moves any state to Anonymous and clears the store.
//
// # Generations
//
// Every time the session is replaced (login, logout, hydrate, expiry) the
// Manager bumps its generation. Refresh tickets are stamped with the
// generation they were started for; a result that arrives for an older
// generation is discarded, so a refresh that resolves after a logout never
// brings the session back. Requests carry the generation they started in
// too, and are never retried with the credentials of a later session.
package session
