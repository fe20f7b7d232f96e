package http

import (
	"context"
	"encoding/json"
	"io"
	gohttp "net/http"

	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/transport/http"
	"github.com/pkg/errors"

	kitendpoint "github.com/rwool/twiceredis/pkg/endpoint"
	"github.com/rwool/twiceredis/pkg/service"
)

// NewAPIHTTPHandler returns a handler that makes the queue service endpoints
// available via HTTP.
//
// Options are keyed by endpoint name: "Publish", "Depth" and "Requeue".
func NewAPIHTTPHandler(endpoints kitendpoint.Endpoints, options map[string][]http.ServerOption) gohttp.Handler {
	if options == nil {
		options = make(map[string][]http.ServerOption)
	}
	m := gohttp.NewServeMux()
	m.Handle("POST /queues/{queue}", http.NewServer(endpoints.Publish,
		decodePublishRequest, encodeResponse, options["Publish"]...))
	m.Handle("GET /queues/{queue}", http.NewServer(endpoints.Depth,
		decodeQueueRequest, encodeResponse, options["Depth"]...))
	m.Handle("POST /queues/{queue}/requeue", http.NewServer(endpoints.Requeue,
		decodeQueueRequest, encodeResponse, options["Requeue"]...))
	return m
}

type errorResponse struct {
	Error string
}

// badRequest is a decode failure. Go kit's default error encoder uses its
// status code.
type badRequest struct {
	error
}

func (badRequest) StatusCode() int {
	return gohttp.StatusBadRequest
}

func failureStatus(err error) int {
	switch errors.Cause(err) {
	case service.ErrNoQueue, service.ErrNoValues:
		return gohttp.StatusBadRequest
	default:
		return gohttp.StatusInternalServerError
	}
}

func encodeResponse(_ context.Context, w gohttp.ResponseWriter, r interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if v, ok := r.(endpoint.Failer); ok && v.Failed() != nil {
		w.WriteHeader(failureStatus(v.Failed()))
		_ = json.NewEncoder(w).Encode(errorResponse{Error: v.Failed().Error()})
		return nil
	}
	err := json.NewEncoder(w).Encode(r)
	return errors.WithStack(err)
}

func decodeQueueRequest(_ context.Context, req *gohttp.Request) (interface{}, error) {
	return kitendpoint.QueueRequest{Queue: req.PathValue("queue")}, nil
}

func decodePublishRequest(_ context.Context, req *gohttp.Request) (i interface{}, e error) {
	decoder := json.NewDecoder(req.Body)
	decoder.DisallowUnknownFields()
	defer func() {
		err := req.Body.Close()
		if e != nil && err != nil {
			e = badRequest{errors.Wrapf(e, "multiple errors: %s", err)}
			return
		}
		if err != nil {
			e = err
		}
	}()
	var pr kitendpoint.PublishRequest
	if err := decoder.Decode(&pr); err != nil && err != io.EOF {
		return nil, badRequest{errors.Wrap(err, "invalid publish request")}
	}
	pr.Queue = req.PathValue("queue")
	return pr, nil
}
