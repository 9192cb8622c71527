// Package stream pulls records from the upstream SSE-style producer and
// feeds each one into a pipeline.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const ssePrefix = "data: "

// Ingester is the subset of pipeline.Pipeline the consumer depends on.
type Ingester interface {
	IngestRecord(ctx context.Context, raw []byte) error
}

// Consumer fetches batches of JSON records from an upstream HTTP endpoint
// serving line-delimited Server-Sent Events and ingests each one.
type Consumer struct {
	apiURL   string
	pipeline Ingester
	client   *http.Client
	log      *zap.Logger
	running  atomic.Bool
}

// New builds a Consumer targeting apiURL (e.g. "http://127.0.0.1:8000").
func New(apiURL string, pipeline Ingester, log *zap.Logger) *Consumer {
	return &Consumer{
		apiURL:   strings.TrimRight(apiURL, "/"),
		pipeline: pipeline,
		client:   &http.Client{},
		log:      log,
	}
}

// FetchBatch requests count records from /record/{count} and ingests each
// one as it arrives on the stream. A per-batch timeout of 30s bounds the
// whole request; malformed lines are skipped, not fatal.
func (c *Consumer) FetchBatch(ctx context.Context, count int) (processed int, err error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/record/%d", c.apiURL, count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("stream: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("stream: fetch batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("stream: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		payload := strings.TrimPrefix(line, ssePrefix)

		if err := c.pipeline.IngestRecord(ctx, []byte(payload)); err != nil {
			if c.log != nil {
				c.log.Warn("stream: skipping unprocessable record", zap.Error(err))
			}
			continue
		}
		processed++
		if processed%100 == 0 && c.log != nil {
			c.log.Info("stream: batch progress", zap.Int("processed", processed), zap.Int("requested", count))
		}
	}
	if err := scanner.Err(); err != nil {
		return processed, fmt.Errorf("stream: reading batch: %w", err)
	}
	return processed, nil
}

// ConsumeContinuous fetches totalBatches batches of batchSize records each,
// waiting delay between batches, until complete, Stop is called, or ctx is
// cancelled.
func (c *Consumer) ConsumeContinuous(ctx context.Context, batchSize, totalBatches int, delay time.Duration) error {
	c.running.Store(true)
	defer c.running.Store(false)

	for batch := 1; batch <= totalBatches; batch++ {
		if !c.running.Load() || ctx.Err() != nil {
			break
		}

		processed, err := c.FetchBatch(ctx, batchSize)
		if err != nil && c.log != nil {
			c.log.Error("stream: batch failed", zap.Int("batch", batch), zap.Error(err))
		} else if c.log != nil {
			c.log.Info("stream: batch complete", zap.Int("batch", batch), zap.Int("processed", processed))
		}

		if batch < totalBatches {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil
}

// Stop cooperatively halts ConsumeContinuous after its in-flight batch.
func (c *Consumer) Stop() {
	c.running.Store(false)
}
