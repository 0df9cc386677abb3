package valuechange

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownTopic is returned when decoding an event with an unregistered topic.
var ErrUnknownTopic = errors.New("unknown event topic")

// Event is a structured notification emitted by a message.
// Events are values; consumers must not mutate them.
type Event interface {
	Topic() string
}

// TopicScoreReturn names the event emitted by AddScore.
const TopicScoreReturn = "ScoreReturn"

// ScoreReturn carries the score after a successful AddScore.
type ScoreReturn struct {
	Score uint64 `json:"score" yaml:"score"`
}

func (ScoreReturn) Topic() string { return TopicScoreReturn }

// DecodeEvent rebuilds an event from its topic and JSON payload.
func DecodeEvent(topic string, payload []byte) (Event, error) {
	switch topic {
	case TopicScoreReturn:
		var e ScoreReturn
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", topic, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("event topic %q: %w", topic, ErrUnknownTopic)
	}
}
