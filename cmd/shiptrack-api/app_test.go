package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	shipmentsapi "github.com/BearBump/ShipTrack/internal/api/shipments_api"
	"github.com/BearBump/ShipTrack/internal/auth"
	"github.com/BearBump/ShipTrack/internal/broker/messages"
	"github.com/BearBump/ShipTrack/internal/cache/rediscache"
	"github.com/BearBump/ShipTrack/internal/metrics"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/BearBump/ShipTrack/internal/services/shipments"
	"github.com/BearBump/ShipTrack/internal/storage/memshipment"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type fakeConsumer struct {
	messages [][]byte
	mu       sync.Mutex
	results  []error
}

func (c *fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	c.mu.Lock()
	for _, m := range c.messages {
		c.results = append(c.results, handler(nil, m))
	}
	c.messages = nil
	c.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeConsumer) handled() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.results...)
}

func writeSwagger(t *testing.T) string {
	t.Helper()
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

func newTestAPI(t *testing.T) (*shipments.Service, *shipmentsapi.ShipmentsAPI) {
	t.Helper()
	a, err := auth.New(strings.Repeat("k", auth.MinSecretLen), time.Hour, nil)
	require.NoError(t, err)
	svc := shipments.New(memshipment.New(), nil, 0)
	return svc, shipmentsapi.New(svc, a, nil)
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRunShiptrackAPI_Endpoints(t *testing.T) {
	svc, api := newTestAPI(t)
	m := metrics.New("test")
	api.WithMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := shiptrackAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: writeSwagger(t),
		topic:       "shipment.events",
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runShiptrackAPI(ctx, opts, api, m, svc, nil) }()
	base := "http://" + <-addrCh

	code, body := get(t, base+"/swagger.json")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"swagger"`)

	code, _ = get(t, base+"/healthz")
	require.Equal(t, http.StatusOK, code)
	code, _ = get(t, base+"/readyz")
	require.Equal(t, http.StatusOK, code)

	// operator routes are mounted and protected
	code, body = get(t, base+"/api/v1/shipments")
	require.Equal(t, http.StatusUnauthorized, code)
	require.Contains(t, body, "UNAUTHORIZED")

	code, body = get(t, base+"/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "shiptrack_http_requests_total")

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestRunShiptrackAPI_NotReady(t *testing.T) {
	svc, api := newTestAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := shiptrackAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: writeSwagger(t),
		ready:       func(context.Context) error { return errors.New("db down") },
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}
	go func() { _ = runShiptrackAPI(ctx, opts, api, nil, svc, nil) }()

	code, body := get(t, "http://"+<-addrCh+"/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Contains(t, body, "db down")
}

func TestRunShiptrackAPI_SwaggerRequired(t *testing.T) {
	svc, api := newTestAPI(t)
	err := runShiptrackAPI(context.Background(), shiptrackAPIOpts{httpAddr: "127.0.0.1:0"}, api, nil, svc, nil)
	require.Error(t, err)

	err = runShiptrackAPI(context.Background(), shiptrackAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "missing.json"),
	}, api, nil, svc, nil)
	require.Error(t, err)
}

func TestRunShiptrackAPI_ConsumesEvents(t *testing.T) {
	svc, api := newTestAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sh, err := svc.Create(ctx, models.ShipmentCreateInput{Origin: "Berlin", Destination: "Munich"})
	require.NoError(t, err)

	ev := messages.ShipmentEvent{
		EventID:        "ext-1",
		EventType:      models.EventShipmentOverdue,
		ShipmentID:     sh.ID,
		TrackingNumber: sh.TrackingNumber,
		Status:         sh.Status,
		OccurredAt:     time.Now().UTC(),
	}
	good, err := json.Marshal(ev)
	require.NoError(t, err)
	cons := &fakeConsumer{messages: [][]byte{[]byte("{not json"), []byte(`{"event_id":""}`), good, good}}

	addrCh := make(chan string, 1)
	opts := shiptrackAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: writeSwagger(t),
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}
	go func() { _ = runShiptrackAPI(ctx, opts, api, nil, svc, cons) }()
	<-addrCh

	require.Eventually(t, func() bool { return len(cons.handled()) == 4 }, 2*time.Second, 10*time.Millisecond)
	res := cons.handled()
	require.Error(t, res[0])
	require.Error(t, res[1])
	require.NoError(t, res[2])
	require.NoError(t, res[3])

	evs, err := svc.ListEvents(ctx, sh.ID, 10, 0)
	require.NoError(t, err)
	// CREATED recorded locally plus one overdue notice; the redelivery is ignored
	require.Len(t, evs, 2)
}

func TestNewRouter_TrackLimitIgnoresForwardedHeaders(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := rediscache.NewRateLimiter(mr.Addr())
	t.Cleanup(func() { _ = rl.Close() })

	a, err := auth.New(strings.Repeat("k", auth.MinSecretLen), time.Hour, nil)
	require.NoError(t, err)
	svc := shipments.New(memshipment.New(), nil, 0)
	api := shipmentsapi.New(svc, a, rl).WithTrackLimit(1, time.Hour)
	sh, err := svc.Create(context.Background(), models.ShipmentCreateInput{Origin: "Berlin", Destination: "Munich"})
	require.NoError(t, err)

	srv := httptest.NewServer(newRouter(shiptrackAPIOpts{swaggerPath: writeSwagger(t)}, api, nil))
	t.Cleanup(srv.Close)

	var ok, limited int
	for i := 0; i < 5; i++ {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/shipments/track/"+sh.TrackingNumber, nil)
		require.NoError(t, err)
		ip := "203.0.113." + strconv.Itoa(i+1)
		req.Header.Set("X-Forwarded-For", ip)
		req.Header.Set("X-Real-IP", ip)
		req.Header.Set("True-Client-IP", ip)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			limited++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 4, limited)
}
