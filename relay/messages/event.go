package messages

import "time"

// Identity describes the client towards the relay. It is attached to every register frame and
// can not be changed after construction.
type Identity struct {
	clientType string
	version    string
}

func NewIdentity(clientType, version string) Identity {
	return Identity{
		clientType: clientType,
		version:    version,
	}
}

func (i Identity) ClientType() string {
	return i.clientType
}

// Version is advisory only, the relay does not negotiate on it
func (i Identity) Version() string {
	return i.version
}

func (i Identity) String() string {
	return i.clientType + "/" + i.version
}

// Notification is a single notification event. It is always passed by value.
type Notification struct {
	Title     string
	Body      string
	Sender    string
	SourceApp string
	CreatedAt time.Time
}

// DismissEvent is raised when an overlay has been dismissed on some client
type DismissEvent struct {
	OriginClientID string
	// OriginClientType is the kind of client that dismissed, when the frame carries it
	OriginClientType string
	Timestamp        time.Time
}
