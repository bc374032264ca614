package codec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/audio"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/emotion"
)

// Full method names served by the inference sidecar.
const (
	PredictMethod = "/soothing.v1.Classifier/Predict"
	SootheMethod  = "/soothing.v1.Soother/Soothe"
)

// ErrMalformedResponse is returned when the sidecar replies with an unexpected shape.
var ErrMalformedResponse = errors.New("codec: malformed response")

// #region client-struct
// Client wraps the gRPC connection to the Python inference sidecar, which hosts
// the emotion classifier and the voice synthesizer.
type Client struct {
	conn       *grpc.ClientConn
	cc         grpc.ClientConnInterface
	timeout    time.Duration
	parentName string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every RPC. Zero disables the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithParentName sets the name the voice actuator speaks.
func WithParentName(name string) Option {
	return func(c *Client) { c.parentName = name }
}
// #endregion client-struct

// #region constructor
// NewClient connects to the inference sidecar at addr.
func NewClient(addr string, opts ...Option) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	c := NewClientWithConn(conn, opts...)
	c.conn = conn
	return c, nil
}

// NewClientWithConn creates a Client over an existing connection.
// Used for testing without a real sidecar.
func NewClientWithConn(cc grpc.ClientConnInterface, opts ...Option) *Client {
	c := &Client{
		cc:         cc,
		timeout:    30 * time.Second,
		parentName: "Mommy",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
// #endregion constructor

// #region close
// Close shuts down the gRPC connection when the client owns one.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
// #endregion close

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// #region predict
// Predict classifies one audio segment. A nil label means the sidecar found
// nothing it could name.
func (c *Client) Predict(ctx context.Context, samples []float32) (emotion.Prediction, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	req := wrapperspb.Bytes(audio.EncodePCM(samples))
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, PredictMethod, req, resp); err != nil {
		return emotion.Prediction{}, fmt.Errorf("predict rpc: %w", err)
	}
	return parsePrediction(resp)
}

func parsePrediction(resp *structpb.Struct) (emotion.Prediction, error) {
	var p emotion.Prediction
	fields := resp.GetFields()

	if v, ok := fields["label"]; ok {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			label := kind.StringValue
			p.Label = &label
		case *structpb.Value_NullValue:
		default:
			return emotion.Prediction{}, fmt.Errorf("%w: label is %T", ErrMalformedResponse, kind)
		}
	}

	if v, ok := fields["confidence"]; ok {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_NumberValue:
			p.Confidence = kind.NumberValue
		case *structpb.Value_NullValue:
		default:
			return emotion.Prediction{}, fmt.Errorf("%w: confidence is %T", ErrMalformedResponse, kind)
		}
	}
	return p, nil
}
// #endregion predict

// #region soothe
// Soothe asks the sidecar to speak a soothing phrase for label.
func (c *Client) Soothe(ctx context.Context, label string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	req, err := structpb.NewStruct(map[string]any{
		"emotion":     label,
		"parent_name": c.parentName,
	})
	if err != nil {
		return fmt.Errorf("build soothe request: %w", err)
	}
	if err := c.cc.Invoke(ctx, SootheMethod, req, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("soothe rpc: %w", err)
	}
	return nil
}
// #endregion soothe

// #region health
// WaitReady polls the standard health service until it reports SERVING,
// backing off on a Fibonacci schedule for at most retries attempts.
func (c *Client) WaitReady(ctx context.Context, retries uint64, base time.Duration) error {
	health := healthpb.NewHealthClient(c.cc)
	b := retry.WithMaxRetries(retries, retry.NewFibonacci(base))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		callCtx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := health.Check(callCtx, &healthpb.HealthCheckRequest{})
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return retry.RetryableError(fmt.Errorf("sidecar status %s", resp.GetStatus()))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("wait for sidecar: %w", err)
	}
	return nil
}
// #endregion health
