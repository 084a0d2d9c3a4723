package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-voice-call-service/internal/observability/metrics"
)

func TestHandler_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.RecordCallStart()

	ready := false
	h := Handler(reg, func() bool { return ready })

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/readyz", http.StatusServiceUnavailable, "not ready"},
		{"/metrics", http.StatusOK, "ai_voice_call_calls_total 1"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.wantCode {
			t.Errorf("%s: code = %d, want %d", tt.path, rec.Code, tt.wantCode)
		}
		if !strings.Contains(rec.Body.String(), tt.wantBody) {
			t.Errorf("%s: body does not contain %q", tt.path, tt.wantBody)
		}
	}

	ready = true
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/readyz after ready = %d", rec.Code)
	}
}

func TestUnaryServerInterceptor_RecordsCode(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	icpt := UnaryServerInterceptor(m)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, _ = icpt(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	_, err := icpt(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("interceptor changed the error: %v", err)
	}

	if got := testutil.ToFloat64(m.RPCRequests.WithLabelValues(info.FullMethod, "OK")); got != 1 {
		t.Errorf("OK requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RPCRequests.WithLabelValues(info.FullMethod, "NotFound")); got != 1 {
		t.Errorf("NotFound requests = %v, want 1", got)
	}
}

func TestStreamServerInterceptor_RecordsCode(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	icpt := StreamServerInterceptor(m)
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch", IsServerStream: true}

	err := icpt(nil, nil, info, func(srv interface{}, ss grpc.ServerStream) error {
		return status.Error(codes.Canceled, "client went away")
	})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("err = %v", err)
	}
	if got := testutil.ToFloat64(m.RPCRequests.WithLabelValues(info.FullMethod, "Canceled")); got != 1 {
		t.Errorf("Canceled streams = %v, want 1", got)
	}
}
