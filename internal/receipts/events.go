package receipts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Event names published after state changes.
const (
	EventVoucherCreated   = "receiptVoucherCreated"
	EventVoucherCancelled = "receiptVoucherCancelled"
	EventBatchProgress    = "batchReceiptProgress"
	EventBatchCompleted   = "batchReceiptCompleted"
	EventRetryCompleted   = "retryCompleted"
)

// Event is a one-way notification. Delivery is best effort; consumers that need
// certainty query state instead.
type Event struct {
	ID      uuid.UUID `json:"id"`
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Branch  string    `json:"branch,omitempty"`
	Message string    `json:"message,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh id.
func NewEvent(eventType, branch, message string, payload any, at time.Time) Event {
	return Event{ID: uuid.New(), Type: eventType, At: at, Branch: branch, Message: message, Payload: payload}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders an amount with grouping and two decimals, e.g. 1,200.00.
func FormatAmount(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return amountPrinter.Sprint(number.Decimal(f, number.Scale(2)))
}
