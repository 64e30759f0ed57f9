package push

// Priority is the delivery urgency requested by the caller.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Options carries the native push settings of a PushMessage.
//
// Priority is accepted and carried but the transports do not currently put
// it on the wire.
type Options struct {
	Data        map[string]any
	Priority    *Priority
	Token       string
	CollapseKey string
}

// NewOptions returns empty options with an initialised data map.
func NewOptions() *Options {
	return &Options{Data: map[string]any{}}
}

// RecipientID returns the device token.
func (o *Options) RecipientID() string {
	if o == nil {
		return ""
	}
	return o.Token
}

// WithToken sets the recipient device token.
func (o *Options) WithToken(token string) *Options {
	o.Token = token
	return o
}

// WithPriority sets the delivery priority.
func (o *Options) WithPriority(p Priority) *Options {
	o.Priority = &p
	return o
}

// WithData replaces the custom data payload.
func (o *Options) WithData(data map[string]any) *Options {
	o.Data = data
	return o
}

// WithCollapseKey sets the key used by the backend to coalesce notifications.
func (o *Options) WithCollapseKey(key string) *Options {
	o.CollapseKey = key
	return o
}

// ToMap exports the options as a plain map.
func (o *Options) ToMap() map[string]any {
	var priority any
	if o.Priority != nil {
		priority = *o.Priority
	}
	var token any
	if o.Token != "" {
		token = o.Token
	}
	var collapseKey any
	if o.CollapseKey != "" {
		collapseKey = o.CollapseKey
	}
	data := o.Data
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{
		"data":        data,
		"priority":    priority,
		"token":       token,
		"collapseKey": collapseKey,
	}
}
