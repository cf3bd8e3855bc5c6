package app

import (
	"fmt"

	"github.com/dkeye/classmeet/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropMessage
	CloseConnection
)

// Policy decides what happens to a receiver whose send queue is full.
type Policy interface {
	OnBackPressure(to domain.ParticipantID) BackpressureAction
}

// SimplePolicy closes slow receivers; their disconnect cleans them up.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.ParticipantID) BackpressureAction {
	return CloseConnection
}

// DropPolicy keeps slow receivers and loses the message.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.ParticipantID) BackpressureAction {
	return DropMessage
}

// PolicyByName maps the backpressure config value to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "close":
		return SimplePolicy{}, nil
	case "drop":
		return DropPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown backpressure policy %q", name)
}
