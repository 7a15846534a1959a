package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	MsgTypeUnknown      MsgType = ""
	MsgTypeRegister     MsgType = "register"
	MsgTypeRegistered   MsgType = "registered"
	MsgTypeNotification MsgType = "notification"
	MsgTypeDismiss      MsgType = "dismiss_notification"
	MsgTypePing         MsgType = "ping"
	// MsgTypePong is answered by the development hub. Clients do not act on it, the frame only counts as
	// inbound activity.
	MsgTypePong MsgType = "pong"

	// DefaultTitle is applied to notification frames without a title.
	DefaultTitle = "Discord通知"
)

var (
	ErrMissingType  = errors.New("missing message type")
	ErrMissingField = errors.New("missing required field")
	ErrInvalidJSON  = errors.New("invalid json")
)

type MsgType string

func (m MsgType) String() string {
	if m == MsgTypeUnknown {
		return "unknown"
	}
	return string(m)
}

// IsKnown reports whether the type belongs to the message taxonomy of this protocol version
func (m MsgType) IsKnown() bool {
	switch m {
	case MsgTypeRegister, MsgTypeRegistered, MsgTypeNotification, MsgTypeDismiss, MsgTypePing, MsgTypePong:
		return true
	default:
		return false
	}
}

// DecodeError describes a frame that could not be decoded. The frame must be dropped, it never
// affects the connection.
type DecodeError struct {
	Type MsgType
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == MsgTypeUnknown {
		return fmt.Sprintf("decode frame: %s", e.Err)
	}
	return fmt.Sprintf("decode %s frame: %s", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type envelope struct {
	Type *MsgType `json:"type"`
}

type registerMsg struct {
	Type       MsgType `json:"type"`
	ClientType *string `json:"client_type"`
	Version    *string `json:"version"`
}

type registeredMsg struct {
	Type     MsgType `json:"type"`
	ClientID *string `json:"clientId"`
}

type notificationMsg struct {
	Type      MsgType `json:"type"`
	Title     *string `json:"title,omitempty"`
	Message   *string `json:"message"`
	Sender    string  `json:"sender,omitempty"`
	App       string  `json:"app,omitempty"`
	Source    string  `json:"source,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

type dismissMsg struct {
	Type        MsgType `json:"type"`
	DismissedBy string  `json:"dismissed_by,omitempty"`
	ClientType  string  `json:"client_type,omitempty"`
}

type pingMsg struct {
	Type      MsgType `json:"type"`
	Timestamp *int64  `json:"timestamp"`
}

// DetermineMsgType reads the type discriminator of a frame. Unknown types are returned as they are
// with a nil error so the caller can ignore them; only unparsable frames and frames without a type
// produce an error.
func DetermineMsgType(msg []byte) (MsgType, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return MsgTypeUnknown, &DecodeError{Err: fmt.Errorf("%w: %s", ErrInvalidJSON, err)}
	}
	if env.Type == nil || *env.Type == MsgTypeUnknown {
		return MsgTypeUnknown, &DecodeError{Err: ErrMissingType}
	}
	return *env.Type, nil
}

// MarshalRegisterMsg creates the registration frame. It must be the first frame of every connection.
func MarshalRegisterMsg(identity Identity) ([]byte, error) {
	clientType := identity.ClientType()
	version := identity.Version()
	return json.Marshal(registerMsg{
		Type:       MsgTypeRegister,
		ClientType: &clientType,
		Version:    &version,
	})
}

func UnmarshalRegisterMsg(msg []byte) (Identity, error) {
	var m registerMsg
	if err := unmarshal(MsgTypeRegister, msg, &m); err != nil {
		return Identity{}, err
	}
	if m.ClientType == nil {
		return Identity{}, missingField(MsgTypeRegister, "client_type")
	}

	var version string
	if m.Version != nil {
		version = *m.Version
	}
	return NewIdentity(*m.ClientType, version), nil
}

func MarshalRegisteredMsg(clientID string) ([]byte, error) {
	return json.Marshal(registeredMsg{
		Type:     MsgTypeRegistered,
		ClientID: &clientID,
	})
}

// UnmarshalRegisteredMsg returns the client id the relay assigned to this connection
func UnmarshalRegisteredMsg(msg []byte) (string, error) {
	var m registeredMsg
	if err := unmarshal(MsgTypeRegistered, msg, &m); err != nil {
		return "", err
	}
	if m.ClientID == nil {
		return "", missingField(MsgTypeRegistered, "clientId")
	}
	return *m.ClientID, nil
}

func MarshalNotificationMsg(n Notification) ([]byte, error) {
	m := notificationMsg{
		Type:    MsgTypeNotification,
		Title:   &n.Title,
		Message: &n.Body,
		Sender:  n.Sender,
		App:     n.SourceApp,
	}
	if !n.CreatedAt.IsZero() {
		m.Timestamp = n.CreatedAt.Format(time.RFC3339Nano)
	}
	return json.Marshal(m)
}

// UnmarshalNotificationMsg decodes a notification frame. The message body is required, the title falls
// back to DefaultTitle. CreatedAt stays zero when the frame has no parsable timestamp.
func UnmarshalNotificationMsg(msg []byte) (Notification, error) {
	var m notificationMsg
	if err := unmarshal(MsgTypeNotification, msg, &m); err != nil {
		return Notification{}, err
	}
	if m.Message == nil {
		return Notification{}, missingField(MsgTypeNotification, "message")
	}

	n := Notification{
		Title:     DefaultTitle,
		Body:      *m.Message,
		Sender:    m.Sender,
		SourceApp: m.App,
		CreatedAt: parseTimestamp(m.Timestamp),
	}
	if m.Title != nil {
		n.Title = *m.Title
	}
	return n, nil
}

// MarshalDismissMsg creates the dismiss frame. Both fields are optional; the relay fills in
// dismissed_by when it fans the frame out.
func MarshalDismissMsg(dismissedBy, clientType string) ([]byte, error) {
	return json.Marshal(dismissMsg{
		Type:        MsgTypeDismiss,
		DismissedBy: dismissedBy,
		ClientType:  clientType,
	})
}

// UnmarshalDismissMsg returns the client id and the client type of the dismiss origin. Either may be
// empty, a client type is never reported as the client id.
func UnmarshalDismissMsg(msg []byte) (dismissedBy, clientType string, err error) {
	var m dismissMsg
	if err := unmarshal(MsgTypeDismiss, msg, &m); err != nil {
		return "", "", err
	}
	return m.DismissedBy, m.ClientType, nil
}

func MarshalPingMsg(t time.Time) ([]byte, error) {
	return marshalTimestamped(MsgTypePing, t)
}

func UnmarshalPingMsg(msg []byte) (time.Time, error) {
	return unmarshalTimestamped(MsgTypePing, msg)
}

func MarshalPongMsg(t time.Time) ([]byte, error) {
	return marshalTimestamped(MsgTypePong, t)
}

func marshalTimestamped(msgType MsgType, t time.Time) ([]byte, error) {
	ts := t.UnixMilli()
	return json.Marshal(pingMsg{
		Type:      msgType,
		Timestamp: &ts,
	})
}

func unmarshalTimestamped(msgType MsgType, msg []byte) (time.Time, error) {
	var m pingMsg
	if err := unmarshal(msgType, msg, &m); err != nil {
		return time.Time{}, err
	}
	if m.Timestamp == nil {
		return time.Time{}, missingField(msgType, "timestamp")
	}
	return time.UnixMilli(*m.Timestamp), nil
}

func unmarshal(msgType MsgType, msg []byte, v any) error {
	if err := json.Unmarshal(msg, v); err != nil {
		return &DecodeError{Type: msgType, Err: fmt.Errorf("%w: %s", ErrInvalidJSON, err)}
	}
	return nil
}

func missingField(msgType MsgType, field string) error {
	return &DecodeError{Type: msgType, Err: fmt.Errorf("%w: %s", ErrMissingField, field)}
}

// source clients may send naive ISO-8601 timestamps
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
