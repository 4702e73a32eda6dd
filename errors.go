package browserstate

// wireError is a low-level transport/codec error, distinct from the §7
// error taxonomy in internal/cdperr (which covers caller-facing action and
// observation failures). errChannelClosed reaches Client callers only
// wrapped in a cdperr sentinel; errInvalidWebsocketMessage is returned by
// Conn.Read, and the Client's read loop logs it and stops.
type wireError string

func (err wireError) Error() string { return string(err) }

const (
	// errInvalidWebsocketMessage is returned by Conn.Read when a frame
	// arrives that isn't a text message.
	errInvalidWebsocketMessage wireError = "invalid websocket message"

	// errChannelClosed is returned when a pending command's result
	// channel closes without a message, e.g. during shutdown.
	errChannelClosed wireError = "channel closed"
)
