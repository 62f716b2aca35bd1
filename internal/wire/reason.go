package wire

import "fmt"

// Reason codes carried in ERROR frames. The numbering follows the reason codes
// queue-manager operators already know from MQ tooling.
const (
	ReasonMessageTooBig    uint32 = 2030
	ReasonNotAuthorized    uint32 = 2035
	ReasonQueueFull        uint32 = 2053
	ReasonQueueManagerName uint32 = 2058
	ReasonUnknownObject    uint32 = 2085
	ReasonUnexpected       uint32 = 2195
	ReasonUnknownChannel   uint32 = 2540
)

var reasonNames = map[uint32]string{
	ReasonMessageTooBig:    "MESSAGE_TOO_BIG",
	ReasonNotAuthorized:    "NOT_AUTHORIZED",
	ReasonQueueFull:        "QUEUE_FULL",
	ReasonQueueManagerName: "Q_MGR_NAME_ERROR",
	ReasonUnknownObject:    "UNKNOWN_OBJECT_NAME",
	ReasonUnexpected:       "UNEXPECTED_ERROR",
	ReasonUnknownChannel:   "UNKNOWN_CHANNEL_NAME",
}

// ReasonName returns the symbolic name for a reason code.
func ReasonName(code uint32) string {
	if name, ok := reasonNames[code]; ok {
		return name
	}
	return fmt.Sprintf("REASON_%d", code)
}
