// Package bus implements the topic-keyed broadcast channel shared by all
// windows editing the same composition. Publishing is fire-and-forget and is
// never echoed back to the publisher. There is no replay for late joiners;
// a window that attaches after a publish obtains current state through the
// normal load path. The last published value for a topic wins.
package bus

import "encoding/json"

// Handler receives the raw JSON value published on a subscribed topic.
// Every broadcast is an authoritative replacement of that topic's value,
// not a delta.
type Handler func(value json.RawMessage)

// Bus is one window's handle on the shared broadcast channel.
type Bus interface {
	// Publish broadcasts value (marshalled to JSON) on topic to every other
	// window attached to the same channel.
	Publish(topic string, value any) error

	// Subscribe registers h for topic and returns an unsubscribe func.
	// Multiple handlers per topic are allowed.
	Subscribe(topic string, h Handler) (unsubscribe func())

	// Close detaches from the channel and drops all subscriptions.
	Close() error
}

// Frame is the wire form of one broadcast entry.
type Frame struct {
	Topic string          `json:"topic"`
	Value json.RawMessage `json:"value"`
}
