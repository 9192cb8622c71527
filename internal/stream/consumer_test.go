package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	mu       sync.Mutex
	ingested [][]byte
	failOn   func([]byte) bool
}

func (f *fakePipeline) IngestRecord(ctx context.Context, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != nil && f.failOn(raw) {
		return fmt.Errorf("simulated malformed record")
	}
	f.ingested = append(f.ingested, raw)
	return nil
}

func TestFetchBatch_ParsesSSELinesAndIngestsEach(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"username\":\"a\"}\n\n")
		fmt.Fprint(w, "data: {\"username\":\"b\"}\n\n")
	}))
	defer srv.Close()

	fp := &fakePipeline{}
	c := New(srv.URL, fp, nil)

	processed, err := c.FetchBatch(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Len(t, fp.ingested, 2)
}

func TestFetchBatch_IgnoresLinesWithoutDataPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": keep-alive comment\n\n")
		fmt.Fprint(w, "data: {\"username\":\"a\"}\n\n")
	}))
	defer srv.Close()

	fp := &fakePipeline{}
	c := New(srv.URL, fp, nil)

	processed, err := c.FetchBatch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
}

func TestFetchBatch_SkipsMalformedLineWithoutAbortingStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: {\"username\":\"a\"}\n\n")
	}))
	defer srv.Close()

	fp := &fakePipeline{failOn: func(b []byte) bool { return string(b) == "not-json" }}
	c := New(srv.URL, fp, nil)

	processed, err := c.FetchBatch(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
}

func TestFetchBatch_NonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fp := &fakePipeline{}
	c := New(srv.URL, fp, nil)

	_, err := c.FetchBatch(context.Background(), 1)
	assert.Error(t, err)
}

func TestConsumeContinuous_StopHaltsBeforeAllBatches(t *testing.T) {
	var requests int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"username\":\"a\"}\n\n")
	}))
	defer srv.Close()

	fp := &fakePipeline{}
	c := New(srv.URL, fp, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Stop()
	}()

	err := c.ConsumeContinuous(context.Background(), 1, 10, 50*time.Millisecond)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, requests, 10)
}

func TestConsumeContinuous_RespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"username\":\"a\"}\n\n")
	}))
	defer srv.Close()

	fp := &fakePipeline{}
	c := New(srv.URL, fp, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := c.ConsumeContinuous(ctx, 1, 10, 100*time.Millisecond)
	assert.Error(t, err)
}
