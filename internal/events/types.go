package events

// IRC event types, generalized from the legacy per-client constants into
// bus-wide event names shared by the Protocol Dispatcher, Connection
// Orchestrator, and DCC subsystem.
const (
	EventMessageReceived       = "message.received"
	EventMessageSent           = "message.sent"
	EventUserJoined            = "user.joined"
	EventUserParted            = "user.parted"
	EventUserQuit              = "user.quit"
	EventUserNick              = "user.nick"
	EventChannelTopic          = "channel.topic"
	EventChannelMode           = "channel.mode"
	EventConnectionEstablished = "connection.established"
	EventConnectionLost        = "connection.lost"
	EventError                 = "error"
	EventSASLStarted           = "sasl.started"
	EventSASLSuccess           = "sasl.success"
	EventSASLFailed            = "sasl.failed"
	EventSASLAborted           = "sasl.aborted"

	EventDccOffered        = "dcc.offered"
	EventDccAccepted       = "dcc.accepted"
	EventDccProgress       = "dcc.progress"
	EventDccCompleted      = "dcc.completed"
	EventDccFailed         = "dcc.failed"
	EventDccChecksumResult = "dcc.checksum_result"
)
