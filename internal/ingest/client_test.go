package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/pkg/models"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

func testClient(url string) *Client {
	return NewClient(ClientConfig{
		BaseURL:      url,
		Secret:       testSecret,
		MaxAttempts:  4,
		BaseDelay:    time.Millisecond,
		PollInterval: time.Millisecond,
		MaxPolls:     5,
	}, logger.Nop())
}

// verifying checks the request signature like the server does
func verifying(t *testing.T, next func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if len(body) == 0 {
			body = EmptyBody
		}
		err = Verify(testSecret, r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderRequestID),
			r.Header.Get(HeaderSignature), body, time.Now(), time.Minute)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJob(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(JobResponse{Status: status, Job: JobView{ID: 1, RequestID: "req-1", Status: status}})
}

func testPayload() *Payload {
	return &Payload{RequestID: "req-1", Source: "sheet", Lang: "de", Entries: []Entry{{ID: "de:haus:1"}}}
}

func TestSubmitRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(verifying(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJob(w, http.StatusAccepted, models.JobPending)
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Submit(context.Background(), testPayload())
	require.NoError(t, err)
	require.Equal(t, models.JobPending, resp.Status)
	require.EqualValues(t, 3, calls.Load())
}

func TestSubmitGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Submit(context.Background(), testPayload())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadGateway, se.Code)
	require.EqualValues(t, 4, calls.Load())
}

func TestSubmitDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad signature","code":"bad_signature"}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Submit(context.Background(), testPayload())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusUnauthorized, se.Code)
	require.Contains(t, se.Body, "bad signature")
	require.EqualValues(t, 1, calls.Load())
}

func TestSubmitRejectsInvalidPayloadLocally(t *testing.T) {
	c := testClient("http://127.0.0.1:1")
	_, err := c.Submit(context.Background(), &Payload{RequestID: "req-1", Source: "sheet"})
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestWaitPollsUntilTerminal(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(verifying(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/sync/jobs/req-1", r.URL.Path)
		switch polls.Add(1) {
		case 1:
			writeJob(w, http.StatusOK, models.JobPending)
		case 2:
			writeJob(w, http.StatusOK, models.JobProcessing)
		default:
			writeJob(w, http.StatusOK, models.JobSuccess)
		}
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Wait(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, models.JobSuccess, resp.Status)
	require.EqualValues(t, 3, polls.Load())
}

func TestWaitTimesOut(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(verifying(t, func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		writeJob(w, http.StatusOK, models.JobProcessing)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Wait(context.Background(), "req-1")
	require.ErrorIs(t, err, ErrWaitTimeout)
	require.EqualValues(t, 5, polls.Load())
}
