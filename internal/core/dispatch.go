package core

import (
	"sort"

	"github.com/comalice/valuechange"
)

// Message names accepted by Contract.Call.
const (
	MsgFlip     = "flip"
	MsgGet      = "get"
	MsgAddScore = "add_score"
	MsgGetScore = "get_score"
)

// Constructor names, reported in Result.Message.
const (
	CtorNew     = "new"
	CtorDefault = "default"
)

type handler func(v *valuechange.Valuechange, env valuechange.Env) (any, error)

// Message describes one externally invokable operation.
type Message struct {
	Name    string
	Mutates bool

	handle    handler
	construct func() *valuechange.Valuechange
}

var messages = map[string]Message{
	MsgFlip: {
		Name:    MsgFlip,
		Mutates: true,
		handle: func(v *valuechange.Valuechange, _ valuechange.Env) (any, error) {
			v.Flip()
			return nil, nil
		},
	},
	MsgGet: {
		Name: MsgGet,
		handle: func(v *valuechange.Valuechange, _ valuechange.Env) (any, error) {
			return v.Get(), nil
		},
	},
	MsgAddScore: {
		Name:    MsgAddScore,
		Mutates: true,
		handle: func(v *valuechange.Valuechange, env valuechange.Env) (any, error) {
			return nil, v.AddScore(env)
		},
	},
	MsgGetScore: {
		Name: MsgGetScore,
		handle: func(v *valuechange.Valuechange, env valuechange.Env) (any, error) {
			return v.GetScore(env), nil
		},
	},
}

func constructor(name string, build func() *valuechange.Valuechange) Message {
	return Message{Name: name, Mutates: true, construct: build}
}

// Lookup returns the message registered under name.
func Lookup(name string) (Message, bool) {
	msg, ok := messages[name]
	return msg, ok
}

// Messages returns all registered messages sorted by name.
func Messages() []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
