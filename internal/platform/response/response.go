// Package response holds the response handling shared by the push transports:
// bounded reading of the backend reply and the mapping of a classified reply
// onto a delivery receipt or one of the typed push errors.
package response

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/tinywideclouds/go-native-push/pkg/push"
)

// MaxBodySize caps how much of a backend reply is kept.
const MaxBodySize = 1 << 20

// Response is a fully read backend reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Read drains and closes resp.Body, keeping at most MaxBodySize bytes.
func Read(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Decode unmarshals the body into v, which must be a non-nil pointer.
// Decoding is best-effort: on failure v is reset to its zero value and false
// is returned.
func (r *Response) Decode(v any) bool {
	if len(r.Body) == 0 {
		return false
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && !rv.IsNil() {
			rv.Elem().SetZero()
		}
		return false
	}
	return true
}

// Outcome is the decision a transport reached about a reply.
type Outcome int

const (
	// Delivered means the backend accepted the message.
	Delivered Outcome = iota
	// Unregistered means the device token is no longer valid.
	Unregistered
	// Failed means the backend rejected the request for any other reason.
	Failed
	// Malformed means the backend answered with success but broke its own contract.
	Malformed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Unregistered:
		return "unregistered"
	case Failed:
		return "failed"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Classification is a transport's reading of one reply.
type Classification struct {
	Outcome Outcome
	// MessageID is set for Delivered when the backend issues one.
	MessageID string
	// UnregisteredAt is set for Unregistered when the backend supplies it.
	UnregisteredAt *time.Time
	// Message overrides the default error text for Failed and Malformed.
	Message string
}

// Target describes the request a reply belongs to.
type Target struct {
	// Backend is the short transport name used in errors, e.g. "apns".
	Backend string
	// Address is the transport's logical address, see push.Transport.String.
	Address  string
	Endpoint string
	Message  push.Message
}

// Resolve turns a classification into exactly one of a receipt or a typed error.
func Resolve(target Target, resp *Response, c Classification) (*push.SentMessage, error) {
	switch c.Outcome {
	case Delivered:
		return &push.SentMessage{
			Original:  target.Message,
			Transport: target.Address,
			Endpoint:  target.Endpoint,
			MessageID: c.MessageID,
		}, nil
	case Unregistered:
		return nil, push.NewTokenUnregisteredError(target.Message.RecipientID(), target.Backend, c.UnregisteredAt)
	case Malformed:
		msg := c.Message
		if msg == "" {
			msg = fmt.Sprintf("unexpected %s response", target.Backend)
		}
		return nil, push.NewTransportError(target.Backend, resp.StatusCode, resp.Body, msg)
	default:
		msg := c.Message
		if msg == "" {
			msg = fmt.Sprintf("unable to send the push notification (status %d)", resp.StatusCode)
		}
		return nil, push.NewTransportError(target.Backend, resp.StatusCode, resp.Body, msg)
	}
}
