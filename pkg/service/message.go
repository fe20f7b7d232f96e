package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
)

// MessageService handles messages a listener takes from a queue.
type MessageService interface {
	Receive(ctx context.Context, queueKey, message string) (Receipt, error)
}

// Receipt records a handled message.
type Receipt struct {
	Queue    string    `json:"queue"`
	Message  string    `json:"message"`
	Received time.Time `json:"received"`
}

type messageService struct {
	l   log.Logger
	now func() time.Time
}

// NewMessageService returns a MessageService that logs every message.
func NewMessageService(l log.Logger) MessageService {
	if l == nil {
		l = log.NewNopLogger()
	}
	return &messageService{l: l, now: time.Now}
}

// Receive logs message.
func (s *messageService) Receive(_ context.Context, queueKey, message string) (Receipt, error) {
	r := Receipt{Queue: queueKey, Message: message, Received: s.now()}
	_ = s.l.Log("LEVEL", "INFO", "MESSAGE", fmt.Sprintf("Received message %q on %s", message, queueKey))
	return r, nil
}
