// Package push contains the public domain model shared by the native push
// transports: messages, delivery options, delivery receipts and the typed
// errors a transport can return.
package push

import (
	"context"
)

// Backend identifies a vendor push service.
type Backend string

const (
	BackendAPNs Backend = "apns"
	BackendFCM  Backend = "fcm"
)

// Message is anything a Transport can be asked to deliver.
// *PushMessage is the only variant the native transports accept.
type Message interface {
	RecipientID() string
}

// PushMessage is a notification with a title, a body and native push options.
type PushMessage struct {
	Subject string
	Content string
	Options *Options
}

// NewPushMessage creates a PushMessage. A nil options value is replaced with
// an empty Options so setters can be chained afterwards.
func NewPushMessage(subject, content string, options *Options) *PushMessage {
	if options == nil {
		options = NewOptions()
	}
	return &PushMessage{
		Subject: subject,
		Content: content,
		Options: options,
	}
}

// RecipientID returns the device token the message is addressed to.
func (m *PushMessage) RecipientID() string {
	if m == nil || m.Options == nil {
		return ""
	}
	return m.Options.RecipientID()
}

// SentMessage is the receipt of a successful delivery.
type SentMessage struct {
	Original Message
	// Transport is the logical address of the transport that delivered the
	// message, e.g. "apns://api.push.apple.com?team_id=T&topic=com.app".
	Transport string
	// Endpoint is the URL the request was posted to.
	Endpoint string
	// MessageID is assigned by the backend. APNs does not issue one.
	MessageID string
}

// Transport delivers one message to one recipient per call.
type Transport interface {
	Send(ctx context.Context, msg Message) (*SentMessage, error)
	Supports(msg Message) bool
	String() string
}
