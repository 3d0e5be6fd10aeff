package client

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/ValentinKolb/skv/lib/policy"
	"github.com/ValentinKolb/skv/lib/types"
	"github.com/ValentinKolb/skv/rpc/wire"
)

var Logger = logger.GetLogger("client")

var (
	metricCommands      = metrics.NewCounter("skv_commands_total")
	metricCommandErrors = metrics.NewCounter("skv_command_errors_total")
	metricRetries       = metrics.NewCounter("skv_command_retries_total")
	metricLatency       = metrics.NewHistogram("skv_command_duration_seconds")
)

// execute runs one record command against the owning node with the
// retry policy applied. The returned payload is also set for terminal
// server failures so callers can inspect the response.
func (c *Client) execute(bp *policy.BasePolicy, key *types.Key, build func(*wire.Buffer) error) (*wire.RecordPayload, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	metricCommands.Inc()
	start := time.Now()
	defer metricLatency.UpdateDuration(start)

	buf := wire.NewBuffer()
	if err := build(buf); err != nil {
		return nil, err
	}

	attempts := bp.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	backoffMs := int(bp.SleepBetweenRetries.Milliseconds())
	if backoffMs <= 0 {
		backoffMs = 50
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metricRetries.Inc()
			// Exponential backoff with jitter
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter) * time.Millisecond)
			backoffMs *= 2
		}

		payload, err := c.executeOnce(bp, key, buf)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		var re *ResultError
		if errors.As(err, &re) {
			if re.Code.IsTopologyStale() {
				// the partition moved, refresh before the next attempt
				c.cluster.RequestTend()
			} else if !re.Code.IsRetryable() {
				metricCommandErrors.Inc()
				return payload, err
			}
		}
		Logger.Debugf("Attempt %d/%d failed: %v", attempt+1, attempts, err)
	}

	metricCommandErrors.Inc()
	return nil, fmt.Errorf("command failed after %d attempt(s): %w", attempts, lastErr)
}

// executeOnce performs a single attempt. Connections that saw an io or
// decode error are discarded, only cleanly used connections return to
// the pool.
func (c *Client) executeOnce(bp *policy.BasePolicy, key *types.Key, buf *wire.Buffer) (*wire.RecordPayload, error) {
	node, err := c.cluster.GetNodeForPartition(key.Namespace(), key.PartitionID())
	if err != nil {
		return nil, err
	}

	cn, err := node.GetConnection()
	if err != nil {
		return nil, err
	}
	cn.SetTimeout(bp.Timeout)

	if err := cn.WriteFrame(buf.Bytes()); err != nil {
		node.InvalidateConnection(cn)
		return nil, err
	}
	_, payload, err := cn.ReadFrame()
	if err != nil {
		node.InvalidateConnection(cn)
		return nil, err
	}
	parsed, err := wire.ParseSingleResponse(payload)
	if err != nil {
		// the stream position is unknown after a decode error
		node.InvalidateConnection(cn)
		return nil, err
	}
	node.PutConnection(cn)

	if parsed.Header.ResultCode != wire.ResultOk {
		return parsed, newResultError(parsed.Header.ResultCode)
	}
	return parsed, nil
}
