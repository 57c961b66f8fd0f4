package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role
	Content string
}

// Thread is the ordered conversation state submitted with each chat turn.
// One thread lives per automation session; account switches start a fresh one.
type Thread struct {
	ID        string
	Title     string
	Turns     []Turn
	CreatedAt time.Time
}

func NewThread(now time.Time) *Thread {
	return &Thread{
		ID:        uuid.NewString(),
		CreatedAt: now,
	}
}

func (t *Thread) Append(role Role, content string) {
	t.Turns = append(t.Turns, Turn{Role: role, Content: content})
}
