package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rjcommerce/trackpool/internal/api/poolapi"
	"github.com/rjcommerce/trackpool/internal/broker/messages"
	"github.com/rjcommerce/trackpool/internal/services/assign"
)

type appOpts struct {
	httpAddr string

	createdTopic  string
	statusTopic   string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(topic string, key, value []byte) error) error
}

func runTrackPoolAPI(ctx context.Context, opts appOpts, api *poolapi.API, assigner *assign.Service, consumer kafkaConsumer) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: api.Routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	httpErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", lis.Addr().String())
		httpErr <- srv.Serve(lis)
	}()

	go func() {
		slog.Info("kafka consumer started",
			"topics", []string{opts.createdTopic, opts.statusTopic},
			"group", opts.consumerGroup,
		)
		err := consumer.Consume(ctx, func(topic string, _ []byte, value []byte) error {
			return dispatchOrderEvent(ctx, assigner, opts, topic, value)
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("kafka consumer stopped", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

// dispatchOrderEvent routes one consumed record to the assigner. A
// payload that does not decode is returned as an error so the offset
// is not committed and the record stays visible for inspection.
func dispatchOrderEvent(ctx context.Context, assigner *assign.Service, opts appOpts, topic string, value []byte) error {
	switch topic {
	case opts.createdTopic:
		var m messages.OrderCreated
		if err := json.Unmarshal(value, &m); err != nil {
			return err
		}
		return assigner.HandleOrderCreated(ctx, m)
	case opts.statusTopic:
		var m messages.OrderStatusChanged
		if err := json.Unmarshal(value, &m); err != nil {
			return err
		}
		return assigner.HandleOrderStatusChanged(ctx, m)
	default:
		slog.Warn("record from unexpected topic dropped", "topic", topic)
		return nil
	}
}
