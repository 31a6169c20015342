package engine

import (
	"sync"
	"time"
)

// MessageClass separates feedback that fades on its own from feedback
// tied to a live failure condition.
type MessageClass int

const (
	MessageInfo MessageClass = iota
	MessageError
)

// Message is one user-facing feedback item.
type Message struct {
	Class      MessageClass
	Text       string
	CategoryID string // empty for month-wide messages
	RaisedAt   time.Time
}

// Notifier holds the single active feedback slot. Info messages expire
// after a fixed TTL or when superseded. Error messages are keyed by the
// condition that raised them and stay until that condition resolves; an
// info message never displaces an error whose condition still holds.
type Notifier struct {
	mu      sync.Mutex
	infoTTL time.Duration
	now     func() time.Time

	info   *Message
	errors map[string]Message
}

func NewNotifier(infoTTL time.Duration) *Notifier {
	return &Notifier{
		infoTTL: infoTTL,
		now:     time.Now,
		errors:  make(map[string]Message),
	}
}

// Info publishes an informational message, superseding any previous info.
func (n *Notifier) Info(categoryID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.info = &Message{
		Class:      MessageInfo,
		Text:       text,
		CategoryID: categoryID,
		RaisedAt:   n.now(),
	}
}

// Error raises (or refreshes) the error for a condition key.
func (n *Notifier) Error(conditionKey, categoryID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors[conditionKey] = Message{
		Class:      MessageError,
		Text:       text,
		CategoryID: categoryID,
		RaisedAt:   n.now(),
	}
}

// Resolve clears the error for a condition key, if raised.
func (n *Notifier) Resolve(conditionKey string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.errors, conditionKey)
}

// Current returns the message to display, or nil. Active errors win over
// info; among errors the most recently raised is shown. Expired info
// yields nil.
func (n *Notifier) Current() *Message {
	n.mu.Lock()
	defer n.mu.Unlock()

	var latest *Message
	for key := range n.errors {
		msg := n.errors[key]
		if latest == nil || msg.RaisedAt.After(latest.RaisedAt) {
			m := msg
			latest = &m
		}
	}
	if latest != nil {
		return latest
	}

	if n.info != nil {
		if n.now().Sub(n.info.RaisedAt) < n.infoTTL {
			m := *n.info
			return &m
		}
		n.info = nil
	}
	return nil
}
