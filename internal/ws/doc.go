// Package ws terminates the two WebSocket upgrade paths: the session
// channel, which streams agent conversation transcripts, and the
// terminal channel, which drives interactive shell sessions.
//
// Every connection walks the same state machine:
//
//	AwaitingAuth -> Active -> Closed
//
// In AwaitingAuth only an auth frame carrying the shared bearer token
// is accepted; anything else closes the connection with a distinct
// close code. Active connections run a ping/pong heartbeat so dead
// peers are torn down instead of leaking subscriptions and PTY
// listeners.
package ws
