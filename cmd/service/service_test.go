package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	gohttp "net/http"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwool/twiceredis/pkg/config"
	"github.com/rwool/twiceredis/pkg/listener"
	"github.com/rwool/twiceredis/pkg/twice"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, err := NewLogger("json", &buf)
	require.NoError(t, err)
	require.NoError(t, l.Log("LEVEL", "INFO", "MESSAGE", "hello"))
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "Output should be JSON.")
	assert.Equal(t, "hello", entry["MESSAGE"])
	assert.Contains(t, entry, "ts")

	buf.Reset()
	l, err = NewLogger("logfmt", &buf)
	require.NoError(t, err)
	require.NoError(t, l.Log("LEVEL", "INFO", "MESSAGE", "hello"))
	assert.Contains(t, buf.String(), "MESSAGE=hello")

	_, err = NewLogger("xml", &buf)
	assert.Error(t, err)
}

func TestSetupValidates(t *testing.T) {
	t.Parallel()

	c := config.Default()
	_, err := Setup(&c, log.NewNopLogger())
	assert.Equal(t, twice.ErrNoServiceName, errors.Cause(err))

	err = Run(context.Background(), &c, log.NewNopLogger())
	assert.Equal(t, listener.ErrNoQueueKey, err, "Listening needs a queue.")
}

func TestServeHTTP(t *testing.T) {
	t.Parallel()

	h := gohttp.HandlerFunc(func(w gohttp.ResponseWriter, _ *gohttp.Request) {
		_, _ = fmt.Fprint(w, "ok")
	})
	serve, err := serveHTTP("127.0.0.1:0", h)
	require.NoError(t, err)

	var buf bytes.Buffer
	l := log.NewLogfmtLogger(log.NewSyncWriter(&buf))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, l) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "Shutting down should not be an error.")
	case <-time.After(10 * time.Second):
		t.Fatal("Server did not stop.")
	}

	_, err = serveHTTP("256.0.0.1:0", h)
	assert.Error(t, err, "Listen errors should be returned before serving.")
}
