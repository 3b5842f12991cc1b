package common

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/google/uuid"
)

var RealWorldState = WorldState{
	Rand: rand.Reader,
	Now:  time.Now,
}

// WorldState is the source of randomness and time for a connection. Tests
// swap it for a deterministic one.
type WorldState struct {
	Rand io.Reader
	Now  func() time.Time
}

func WorldOfTime(t time.Time) WorldState {
	return WorldState{
		Rand: rand.Reader,
		Now:  func() time.Time { return t },
	}
}

// ResumeToken generates a random token identifying a resumable session
func (ws WorldState) ResumeToken() ([]byte, error) {
	id, err := uuid.NewRandomFromReader(ws.Rand)
	if err != nil {
		return nil, err
	}
	return id[:], nil
}
