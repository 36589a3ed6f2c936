package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recognized envelope types. Every inter-stage message carries one of these.
const (
	EventTransactionIngested = "IngestedTransaction"
	EventCustomerIngested    = "IngestedCustomer"
	EventAccountIngested     = "IngestedAccount"
	EventFeaturesReady       = "FeaturesReady"
	EventScored              = "Scored"
)

// ErrUnknownEventType marks envelopes whose type no stage recognizes.
// Consumers drop these without failing.
var ErrUnknownEventType = errors.New("unknown event type")

// Envelope is the CloudEvents-style wrapper applied to every inter-stage
// message on the bus.
type Envelope struct {
	SpecVersion     string          `json:"specversion"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	ID              string          `json:"id"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
	BatchID         string          `json:"batchid,omitempty"`
}

// Event is the closed set of pipeline events. Envelopes are decoded once at
// the bus boundary; stages switch exhaustively on the concrete type.
type Event interface {
	EventType() string
}

// TransactionIngested carries a newly ingested transaction.
type TransactionIngested struct {
	Transaction Transaction
}

func (TransactionIngested) EventType() string { return EventTransactionIngested }

// CustomerIngested carries customer reference data.
type CustomerIngested struct {
	Customer Customer
}

func (CustomerIngested) EventType() string { return EventCustomerIngested }

// AccountIngested carries account reference data.
type AccountIngested struct {
	Account Account
}

func (AccountIngested) EventType() string { return EventAccountIngested }

// FeaturesReady signals that the feature vector for a transaction is computed.
type FeaturesReady struct {
	TxnID    string        `json:"txn_id"`
	Features FeatureVector `json:"features"`
}

func (FeaturesReady) EventType() string { return EventFeaturesReady }

// Scored carries the risk scorer's result for a transaction.
type Scored struct {
	Result ScoreResult
}

func (Scored) EventType() string { return EventScored }

// NewEnvelope wraps an event for publication, assigning a fresh message id
// and a UTC timestamp.
func NewEnvelope(source string, ev Event) (*Envelope, error) {
	var payload any
	switch e := ev.(type) {
	case TransactionIngested:
		payload = e.Transaction
	case CustomerIngested:
		payload = e.Customer
	case AccountIngested:
		payload = e.Account
	case FeaturesReady:
		payload = e
	case Scored:
		payload = e.Result
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, ev)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	return &Envelope{
		SpecVersion:     "1.0",
		Type:            ev.EventType(),
		Source:          source,
		ID:              uuid.New().String(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}, nil
}

// EncodeEvent marshals an envelope for the wire.
func EncodeEvent(source string, ev Event) ([]byte, error) {
	env, err := NewEnvelope(source, ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecodeEvent parses a raw bus payload into a typed pipeline event.
// Unrecognized envelope types return ErrUnknownEventType.
func DecodeEvent(payload []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case EventTransactionIngested:
		var tx Transaction
		if err := json.Unmarshal(env.Data, &tx); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", env.Type, err)
		}
		return TransactionIngested{Transaction: tx}, nil

	case EventCustomerIngested:
		var c Customer
		if err := json.Unmarshal(env.Data, &c); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", env.Type, err)
		}
		return CustomerIngested{Customer: c}, nil

	case EventAccountIngested:
		var a Account
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", env.Type, err)
		}
		return AccountIngested{Account: a}, nil

	case EventFeaturesReady:
		var fr FeaturesReady
		if err := json.Unmarshal(env.Data, &fr); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", env.Type, err)
		}
		return fr, nil

	case EventScored:
		var res ScoreResult
		if err := json.Unmarshal(env.Data, &res); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", env.Type, err)
		}
		return Scored{Result: res}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
}
