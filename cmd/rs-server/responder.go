package main

import (
	"bytes"
	"context"
	"errors"

	"github.com/rsockets2/rsockets2/librsocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// echoResponder answers request-response with the request itself and
// streams back each whitespace separated field of a request-stream
type echoResponder struct{}

func (echoResponder) RequestResponse(_ context.Context, req librsocket.Payload, sink *librsocket.ResponseSink) {
	_ = sink.Success(req)
}

func (echoResponder) RequestStream(ctx context.Context, req librsocket.Payload, sink *librsocket.StreamSink) {
	fields := bytes.Fields(req.Data)
	if len(fields) == 0 {
		_ = sink.Error(errors.New("nothing to stream"))
		return
	}
	for _, f := range fields {
		if ctx.Err() != nil {
			return
		}
		if err := sink.Next(librsocket.Payload{Metadata: req.Metadata, Data: f}); err != nil {
			return
		}
	}
	_ = sink.Complete()
}

func (echoResponder) FireAndForget(_ context.Context, req librsocket.Payload) {
	log.Infof("fire and forget: %q", req.Data)
}

func hashOf(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}
