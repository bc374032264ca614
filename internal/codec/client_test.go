package codec

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/audio"
)

// #region mock
type mockConn struct {
	grpc.ClientConnInterface

	method   string
	request  proto.Message
	response proto.Message
	err      error
	deadline bool
}

func (m *mockConn) Invoke(ctx context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	m.method = method
	m.request = args.(proto.Message)
	_, m.deadline = ctx.Deadline()
	if m.err != nil {
		return m.err
	}
	if m.response != nil {
		proto.Merge(reply.(proto.Message), m.response)
	}
	return nil
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	return s
}

// #endregion mock

// #region constructor-tests
func TestNewClientLazyDial(t *testing.T) {
	client, err := NewClient("localhost:0")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	defer client.Close()
}

func TestNewClientWithConnDefaults(t *testing.T) {
	c := NewClientWithConn(&mockConn{})
	if c.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", c.timeout)
	}
	if c.parentName != "Mommy" {
		t.Errorf("parentName = %q, want Mommy", c.parentName)
	}
	if err := c.Close(); err != nil {
		t.Errorf("close without owned conn: %v", err)
	}
}

// #endregion constructor-tests

// #region predict-tests
func TestPredict_Success(t *testing.T) {
	mock := &mockConn{response: mustStruct(t, map[string]any{"label": "hungry", "confidence": 0.91})}
	c := NewClientWithConn(mock)

	samples := []float32{0.1, -0.2, 0.3}
	p, err := c.Predict(context.Background(), samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Label == nil || *p.Label != "hungry" {
		t.Fatalf("label = %v, want hungry", p.Label)
	}
	if p.Confidence != 0.91 {
		t.Errorf("confidence = %v, want 0.91", p.Confidence)
	}
	if mock.method != PredictMethod {
		t.Errorf("method = %q", mock.method)
	}
	if !mock.deadline {
		t.Error("expected a per-call deadline")
	}

	sent, err := audio.DecodePCM(mock.request.(*wrapperspb.BytesValue).GetValue())
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if len(sent) != len(samples) || sent[1] != samples[1] {
		t.Errorf("request samples = %v, want %v", sent, samples)
	}
}

func TestPredict_NullLabel(t *testing.T) {
	mock := &mockConn{response: mustStruct(t, map[string]any{"label": nil, "confidence": 0.0})}
	p, err := NewClientWithConn(mock).Predict(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Label != nil {
		t.Errorf("label = %q, want nil", *p.Label)
	}
}

func TestPredict_MissingFields(t *testing.T) {
	mock := &mockConn{response: &structpb.Struct{}}
	p, err := NewClientWithConn(mock).Predict(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Label != nil || p.Confidence != 0 {
		t.Errorf("got %+v, want zero prediction", p)
	}
}

func TestPredict_MalformedLabel(t *testing.T) {
	mock := &mockConn{response: mustStruct(t, map[string]any{"label": 3.0})}
	_, err := NewClientWithConn(mock).Predict(context.Background(), nil)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestPredict_Error(t *testing.T) {
	mock := &mockConn{err: errors.New("connection refused")}
	_, err := NewClientWithConn(mock).Predict(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "predict rpc: connection refused" {
		t.Errorf("error = %q", got)
	}
}

func TestPredict_NoTimeout(t *testing.T) {
	mock := &mockConn{response: &structpb.Struct{}}
	if _, err := NewClientWithConn(mock, WithTimeout(0)).Predict(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.deadline {
		t.Error("expected no deadline when timeout is zero")
	}
}

// #endregion predict-tests

// #region soothe-tests
func TestSoothe_SendsLabelAndParent(t *testing.T) {
	mock := &mockConn{}
	c := NewClientWithConn(mock, WithParentName("Daddy"))

	if err := c.Soothe(context.Background(), "scared"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.method != SootheMethod {
		t.Errorf("method = %q", mock.method)
	}
	fields := mock.request.(*structpb.Struct).GetFields()
	if fields["emotion"].GetStringValue() != "scared" {
		t.Errorf("emotion = %v", fields["emotion"])
	}
	if fields["parent_name"].GetStringValue() != "Daddy" {
		t.Errorf("parent_name = %v", fields["parent_name"])
	}
}

func TestSoothe_Error(t *testing.T) {
	mock := &mockConn{err: errors.New("tts unavailable")}
	err := NewClientWithConn(mock).Soothe(context.Background(), "hungry")
	if err == nil || err.Error() != "soothe rpc: tts unavailable" {
		t.Fatalf("error = %v", err)
	}
}

// #endregion soothe-tests

// #region health-tests
func startHealthServer(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", status)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWaitReady_Serving(t *testing.T) {
	conn := startHealthServer(t, healthpb.HealthCheckResponse_SERVING)
	c := NewClientWithConn(conn, WithTimeout(time.Second))

	if err := c.WaitReady(context.Background(), 3, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitReady_NotServing(t *testing.T) {
	conn := startHealthServer(t, healthpb.HealthCheckResponse_NOT_SERVING)
	c := NewClientWithConn(conn, WithTimeout(time.Second))

	err := c.WaitReady(context.Background(), 2, time.Millisecond)
	if err == nil {
		t.Fatal("expected error for NOT_SERVING sidecar")
	}
}

// #endregion health-tests
