// Package dispatch routes typed request messages to registry handlers.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	rerrors "github.com/Keiii25/lean-formal-agent/pkg/errors"
	"github.com/Keiii25/lean-formal-agent/pkg/telemetry"
)

// Message is the envelope every request arrives in.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handler serves the data of one message kind and returns the response
// value to encode.
type Handler func(ctx context.Context, data json.RawMessage) (any, error)

// validator is implemented by requests with required fields.
type validator interface {
	validate() error
}

// Handle adapts a typed function to a Handler. The data is decoded strictly
// into Req: unknown fields, trailing input and missing required fields fail
// with CodeMalformedRequest before fn runs.
func Handle[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) Handler {
	return func(ctx context.Context, data json.RawMessage) (any, error) {
		var req Req
		if err := decodeStrict(data, &req); err != nil {
			return nil, rerrors.New(rerrors.CodeMalformedRequest, "request does not match its shape", err)
		}
		if v, ok := any(&req).(validator); ok {
			if err := v.validate(); err != nil {
				return nil, rerrors.New(rerrors.CodeMalformedRequest, "request does not match its shape", err)
			}
		}
		return fn(ctx, req)
	}
}

// Dispatcher maps message kinds to handlers. The table is fixed at
// construction.
type Dispatcher struct {
	handlers map[string]Handler
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewDispatcher returns a dispatcher over the given handler table.
func NewDispatcher(handlers map[string]Handler) *Dispatcher {
	table := make(map[string]Handler, len(handlers))
	for kind, h := range handlers {
		table[kind] = h
	}
	return &Dispatcher{
		handlers: table,
		logger:   slog.Default(),
		tracer:   otel.Tracer("agentreg/dispatch"),
	}
}

// Types returns the handled message kinds in lexicographic order.
func (d *Dispatcher) Types() []string {
	out := make([]string, 0, len(d.handlers))
	for kind := range d.handlers {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// Dispatch decodes a raw message envelope and dispatches it.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) ([]byte, error) {
	var msg Message
	if err := decodeStrict(raw, &msg); err != nil {
		return nil, rerrors.New(rerrors.CodeMalformedRequest, "message envelope is malformed", err)
	}
	return d.DispatchMessage(ctx, msg)
}

// DispatchMessage runs the handler for msg.Type and encodes its response.
func (d *Dispatcher) DispatchMessage(ctx context.Context, msg Message) ([]byte, error) {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.Dispatch", trace.WithAttributes(
		attribute.String(telemetry.AttrMessageType, msg.Type),
	))
	defer span.End()

	h, ok := d.handlers[msg.Type]
	if !ok {
		err := rerrors.Newf(rerrors.CodeUnknownMessageType, "no handler for message type %q", msg.Type).
			WithContext("type", msg.Type).
			WithContext("valid", d.Types())
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	resp, err := h(ctx, msg.Data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn("dispatch.error",
			slog.String("type", msg.Type),
			slog.String("code", string(rerrors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, rerrors.New(rerrors.CodeInternal, "response is not JSON encodable", err).
			WithContext("type", msg.Type)
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// EncodeError renders err as the {"error": {...}} reply object.
func EncodeError(err error) []byte {
	out, mErr := json.Marshal(map[string]any{"error": rerrors.AsRegistryError(err)})
	if mErr != nil {
		return []byte(`{"error":{"code":"INTERNAL_ERROR","message":"error is not JSON encodable","recoverable":false}}`)
	}
	return out
}

func decodeStrict(data []byte, out any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty document")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after document")
	}
	return nil
}
