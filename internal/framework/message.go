package framework

import "time"

// Message is one unit of work pulled from a queue. It is owned
// exclusively by the processor handling it until it is deleted, its
// visibility is explicitly changed, or it is abandoned to expire.
type Message struct {
	ID                string            // backend message ID
	Body              []byte            // raw body
	Parsed            interface{}       // body after the group's parser ran
	ReceiptHandle     string            // required to delete or re-time the message
	Attributes        map[string]string // backend system attributes
	MessageAttributes map[string]string // user attributes
	OrderingKey       string            // serializes delivery when set
	ReceiveCount      int               // delivery attempt, 1-based
	Queue             string            // queue the message came from
}

// SendOptions carries per-message options for Send.
type SendOptions struct {
	Delay       time.Duration // delivery delay, capped at MaxSendDelay
	OrderingKey string
	Attributes  map[string]string
}

// SendEntry is one element of a SendBatch call.
type SendEntry struct {
	ID          string // entry ID, unique within the batch
	Body        []byte
	Delay       time.Duration
	OrderingKey string
}
