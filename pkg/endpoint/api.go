package endpoint

import (
	"context"
	"time"

	"github.com/go-kit/kit/endpoint"

	"github.com/rwool/twiceredis/pkg/service"
)

// requestTimeout bounds every call made through the endpoints.
const requestTimeout = 10 * time.Second

// Endpoints collects the QueueService endpoints.
type Endpoints struct {
	Publish endpoint.Endpoint
	Depth   endpoint.Endpoint
	Requeue endpoint.Endpoint
}

// PublishRequest contains values to push onto a queue.
type PublishRequest struct {
	Queue  string   `json:"-"`
	Values []string `json:"values"`
}

// PublishResponse contains the queue length after a publish.
type PublishResponse struct {
	Length int64 `json:"length"`
	e      error
}

// Failed indicates if there was a business logic failure.
func (r PublishResponse) Failed() error { return r.e }

// QueueRequest names the queue an operation applies to.
type QueueRequest struct {
	Queue string
}

// DepthResponse contains the lengths of a queue and its processing list.
type DepthResponse struct {
	service.Depth
	e error
}

// Failed indicates if there was a business logic failure.
func (r DepthResponse) Failed() error { return r.e }

// RequeueResponse contains how many messages were requeued.
type RequeueResponse struct {
	Requeued int `json:"requeued"`
	e        error
}

// Failed indicates if there was a business logic failure.
func (r RequeueResponse) Failed() error { return r.e }

// MakeEndpoints creates the Go kit endpoints for s.
func MakeEndpoints(s service.QueueService) Endpoints {
	return Endpoints{
		Publish: MakePublishEndpoint(s),
		Depth:   MakeDepthEndpoint(s),
		Requeue: MakeRequeueEndpoint(s),
	}
}

// MakePublishEndpoint creates an endpoint for publishing messages.
func MakePublishEndpoint(s service.QueueService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		req := request.(PublishRequest)
		n, err := s.Publish(ctx, req.Queue, req.Values)
		return PublishResponse{Length: n, e: err}, nil
	}
}

// MakeDepthEndpoint creates an endpoint for reading queue depths.
func MakeDepthEndpoint(s service.QueueService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		req := request.(QueueRequest)
		d, err := s.Depth(ctx, req.Queue)
		return DepthResponse{Depth: d, e: err}, nil
	}
}

// MakeRequeueEndpoint creates an endpoint for requeueing unacknowledged
// messages.
func MakeRequeueEndpoint(s service.QueueService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		req := request.(QueueRequest)
		n, err := s.Requeue(ctx, req.Queue)
		return RequeueResponse{Requeued: n, e: err}, nil
	}
}

// ReceiveResponse contains the receipt for a message handled by a listener.
type ReceiveResponse struct {
	service.Receipt
	e error
}

// Failed indicates if there was a business logic failure.
func (r ReceiveResponse) Failed() error { return r.e }

// MakeReceiveEndpoint creates an endpoint for messages taken from queueKey.
// The request is the message string.
func MakeReceiveEndpoint(s service.MessageService, queueKey string) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		message := request.(string)
		r, err := s.Receive(ctx, queueKey, message)
		return ReceiveResponse{Receipt: r, e: err}, nil
	}
}
