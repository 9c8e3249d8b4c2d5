// Package chat declares the data persisted by the chat application: rooms,
// their messages and the participants that may answer automatically.
package chat

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// Message is a single chat line.
type Message struct {
	ID                string    `json:"id"`
	Text              string    `json:"text"`
	Sender            Sender    `json:"sender"`
	ParticipantID     string    `json:"participantId,omitempty"`
	ParticipantAvatar string    `json:"participantAvatar,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// IDGenerator produces message identifiers. *ids.Generator satisfies it.
type IDGenerator interface {
	Generate() string
}

// NewMessage builds a message with a fresh identifier.
func NewMessage(gen IDGenerator, text string, sender Sender, now time.Time) Message {
	return Message{
		ID:        gen.Generate(),
		Text:      text,
		Sender:    sender,
		Timestamp: now,
	}
}

// From attributes the message to p.
func (m Message) From(p Participant) Message {
	m.ParticipantID = p.ID
	m.ParticipantAvatar = p.Avatar
	return m
}

// Participant is a member of a room. Bots with AutoRespond set reply after a
// delay drawn from [MinResponseTime, MaxResponseTime] milliseconds.
type Participant struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Avatar          string `json:"avatar"`
	AutoRespond     bool   `json:"autoRespond"`
	MinResponseTime int64  `json:"minResponseTime"`
	MaxResponseTime int64  `json:"maxResponseTime"`
}

var ErrInvalidResponseWindow = errors.New("chat: invalid response window")

// MaxResponseWindow is the largest response bound, in milliseconds, that still
// fits a time.Duration.
const MaxResponseWindow = math.MaxInt64 / int64(time.Millisecond)

// Validate checks the response window bounds.
func (p Participant) Validate() error {
	if p.MinResponseTime < 0 || p.MaxResponseTime < 0 {
		return fmt.Errorf("%w: participant %q has negative bounds", ErrInvalidResponseWindow, p.ID)
	}
	if p.MaxResponseTime > MaxResponseWindow {
		return fmt.Errorf("%w: participant %q max %dms exceeds %dms",
			ErrInvalidResponseWindow, p.ID, p.MaxResponseTime, MaxResponseWindow)
	}
	if p.MinResponseTime > p.MaxResponseTime {
		return fmt.Errorf("%w: participant %q min %dms exceeds max %dms",
			ErrInvalidResponseWindow, p.ID, p.MinResponseTime, p.MaxResponseTime)
	}
	return nil
}

// ResponseDelay picks a delay within the participant's window. r may be nil
// to use the global source. Bounds outside [0, MaxResponseWindow] are clamped.
func (p Participant) ResponseDelay(r *rand.Rand) time.Duration {
	lo := min(max(p.MinResponseTime, 0), MaxResponseWindow)
	hi := min(max(p.MaxResponseTime, 0), MaxResponseWindow)
	if hi < lo {
		lo, hi = hi, lo
	}
	span := hi - lo + 1
	var n int64
	if r != nil {
		n = r.Int64N(span)
	} else {
		n = rand.Int64N(span)
	}
	return time.Duration(lo+n) * time.Millisecond
}

// Room is the persisted state of one conversation.
type Room struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Messages     []Message     `json:"messages"`
	Participants []Participant `json:"participants"`
}

// NewRoom returns an empty room. Its slices are non-nil so they encode as
// empty lists.
func NewRoom(id, name string) Room {
	return Room{
		ID:           id,
		Name:         name,
		Messages:     []Message{},
		Participants: []Participant{},
	}
}

// Append adds a message to the end of the room's history.
func (r *Room) Append(m Message) {
	r.Messages = append(r.Messages, m)
}

// Join adds p, replacing any participant with the same ID.
func (r *Room) Join(p Participant) {
	for i := range r.Participants {
		if r.Participants[i].ID == p.ID {
			r.Participants[i] = p
			return
		}
	}
	r.Participants = append(r.Participants, p)
}

// Participant looks a participant up by ID.
func (r Room) Participant(id string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// Responders returns the participants with auto-response enabled.
func (r Room) Responders() []Participant {
	var out []Participant
	for _, p := range r.Participants {
		if p.AutoRespond {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks every participant and message.
func (r Room) Validate() error {
	var errs []error
	for _, p := range r.Participants {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, m := range r.Messages {
		if !m.Sender.Valid() {
			errs = append(errs, fmt.Errorf("chat: message %q has unknown sender %q", m.ID, m.Sender))
		}
	}
	return errors.Join(errs...)
}
