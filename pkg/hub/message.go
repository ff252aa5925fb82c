// Package hub fans JSON frames out to websocket subscribers. Each frame
// carries a topic; subscribers may restrict themselves to a set of topics,
// and a replaying hub hands new subscribers the latest frame of every
// topic so they start from current state.
package hub

import "encoding/json"

// Message is one pre-encoded JSON frame.
type Message struct {
	Topic string
	Data  []byte
}

// NewMessage encodes v as a frame on topic.
func NewMessage(topic string, v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Topic: topic, Data: data}, nil
}
