// Package session manages the client-side lifecycle of an authenticated
// session: deciding whether the running client is logged in, keeping that
// decision fresh through scheduled background work, and reacting to
// out-of-band invalidation (a cleared cookie, a server-side revocation,
// a failed heartbeat).
//
// Status ownership:
//   - SessionStateMachine is the sole writer of status and of the TokenStore.
//     Every scheduler reports back into it; nothing else mutates shared state.
//   - Validator is the single authoritative check. Concurrent callers coalesce
//     onto one in-flight round trip and observe the same result.
//
// Background work:
//   - RefreshScheduler renews the bearer token ahead of expiry, deriving its
//     cadence from the token's own exp claim when one is readable.
//   - HeartbeatMonitor pings the server on an interval and on tab-foreground,
//     turning a 401/403 into an authoritative re-check.
//   - CookieWatcher polls the session cookie and reports transitions; a
//     present-to-absent transition while authenticated is an integrity
//     violation that forces an immediate local logout.
//
// Events:
//   - Notifier fans lifecycle events out to decoupled observers. Construct one
//     instance at the composition root and pass it by reference; subscribers
//     run in a deterministic order, and one that fails is isolated so the
//     rest still run.
package session
