// Package pipeline implements the capture decoding engine. It pulls
// records from a packet source, unwraps the network headers, decodes
// the transport segment and its message blocks, and routes every
// decoded message to the per-type CSV sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/gopacket"
	"github.com/sirupsen/logrus"

	"github.com/mafuba8/iex-parser/internal/core"
	"github.com/mafuba8/iex-parser/internal/core/decoder"
	"github.com/mafuba8/iex-parser/internal/deep"
	"github.com/mafuba8/iex-parser/internal/iextp"
	"github.com/mafuba8/iex-parser/internal/sink"
)

// Pipeline represents a single-reader, single-decoder processing chain.
type Pipeline struct {
	source        gopacket.PacketDataSource
	registry      *sink.Registry
	progressEvery uint64
	metrics       *Metrics

	// Runtime state
	wg      sync.WaitGroup
	readErr error
	procErr error

	// Channel for backpressure control
	packets chan core.CapturedPacket
}

// Config contains pipeline configuration.
type Config struct {
	Source        gopacket.PacketDataSource
	Registry      *sink.Registry
	BufferSize    int    // Captured packet channel buffer size
	ProgressEvery uint64 // Log a progress line every N packets, 0 disables
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1024 // Default buffer size
	}

	return &Pipeline{
		source:        cfg.Source,
		registry:      cfg.Registry,
		progressEvery: cfg.ProgressEvery,
		metrics:       NewMetrics(),
		packets:       make(chan core.CapturedPacket, cfg.BufferSize),
	}
}

// Run drains the source to end-of-stream, decoding every packet. It
// returns nil on a clean end of stream, the source error if the capture
// container is unreadable, or the decode error on a condition that
// poisons the whole run. Run may be called once per pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start read goroutine
	p.wg.Add(1)
	go p.readLoop(runCtx)

	// Start decode goroutine
	p.wg.Add(1)
	go p.decodeLoop(runCtx, cancel)

	// Wait for all goroutines to finish
	p.wg.Wait()

	switch {
	case p.readErr != nil:
		return p.readErr
	case p.procErr != nil:
		return p.procErr
	default:
		return ctx.Err()
	}
}

// readLoop pulls records from the source and sends them to the decode
// channel. The channel is closed when the source ends, so the decode
// loop drains buffered packets before it stops.
func (p *Pipeline) readLoop(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.packets)

	var index uint64
	for {
		data, ci, err := p.source.ReadPacketData()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.readErr = err
			}
			return
		}

		pkt := core.CapturedPacket{
			Data:       data,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
			Index:      index,
		}
		index++

		select {
		case <-ctx.Done():
			return
		case p.packets <- pkt:
		}
	}
}

// decodeLoop is the main decoding loop.
func (p *Pipeline) decodeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case pkt, ok := <-p.packets:
			if !ok {
				// Channel closed, source drained
				return
			}

			n := p.metrics.Packets.Add(1)

			if err := p.processPacket(pkt); err != nil {
				p.procErr = err
				cancel()
				return
			}

			if p.progressEvery > 0 && n%p.progressEvery == 0 {
				logrus.WithFields(logrus.Fields{
					"packets":  n,
					"messages": p.metrics.Messages.Load(),
					"rows":     p.metrics.Rows.Load(),
				}).Info("decode progress")
			}
		}
	}
}

// processPacket decodes a single captured packet down to CSV rows.
// Per-packet corruption is counted and skipped; only a foreign message
// protocol or a sink failure poisons the run.
func (p *Pipeline) processPacket(pkt core.CapturedPacket) error {
	// Step 1: Unwrap Ethernet/IPv4/UDP
	payload, err := decoder.Payload(pkt.Data)
	if err != nil {
		p.metrics.HeaderErrors.Add(1)
		logrus.WithFields(logrus.Fields{
			"packet": pkt.Index,
			"error":  err,
		}).Debug("skipping packet with undecodable headers")
		return nil
	}

	// Step 2: Decode the transport segment header
	seg, body, err := iextp.DecodeHeader(payload)
	if err != nil {
		if errors.Is(err, core.ErrSegmentCountMismatch) {
			p.metrics.SegmentErrors.Add(1)
			logrus.WithFields(logrus.Fields{
				"packet": pkt.Index,
				"error":  err,
			}).Warn("abandoning packet with inconsistent segment")
			return nil
		}
		p.metrics.HeaderErrors.Add(1)
		logrus.WithFields(logrus.Fields{
			"packet": pkt.Index,
			"error":  err,
		}).Debug("skipping packet with undecodable segment header")
		return nil
	}

	// The feed is single-protocol; anything else means the wrong
	// capture was fed in, which no amount of skipping will fix.
	if seg.MessageProtocolID != iextp.ProtocolDEEP10 {
		return fmt.Errorf("%w: segment advertises protocol 0x%04X, want 0x%04X (packet %d)",
			core.ErrProtocolMismatch, seg.MessageProtocolID, iextp.ProtocolDEEP10, pkt.Index)
	}

	// Step 3: Split the payload into message blocks
	blocks, err := iextp.Split(body, seg.MessageCount)
	if err != nil {
		p.metrics.SegmentErrors.Add(1)
		logrus.WithFields(logrus.Fields{
			"packet": pkt.Index,
			"error":  err,
		}).Warn("abandoning packet with inconsistent segment")
		return nil
	}

	p.metrics.Segments.Add(1)

	if seg.Heartbeat() {
		p.metrics.Heartbeats.Add(1)
		return nil
	}

	captureNanos := pkt.Timestamp.UnixNano()
	sendOffset := seg.SendTimeNanos - captureNanos

	// Step 4: Decode each block and route it to its sink
	for _, block := range blocks {
		p.metrics.Messages.Add(1)

		msg, known, err := deep.Decode(block)
		switch {
		case !known:
			p.metrics.Unknown.Add(1)
			logrus.WithFields(logrus.Fields{
				"packet": pkt.Index,
				"tag":    fmt.Sprintf("0x%02X", block[0]),
			}).Debug("skipping unrecognized message type")
		case err != nil:
			p.metrics.Malformed.Add(1)
			logrus.WithFields(logrus.Fields{
				"packet": pkt.Index,
				"error":  err,
			}).Debug("rejecting malformed message block")
		default:
			rawOffset := msg.Timestamp() - captureNanos
			if err := p.registry.Write(msg, captureNanos, sendOffset, rawOffset); err != nil {
				return fmt.Errorf("sink write failed: %w", err)
			}
			p.metrics.Rows.Add(1)
		}
	}

	return nil
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Packets:       p.metrics.Packets.Load(),
		HeaderErrors:  p.metrics.HeaderErrors.Load(),
		Segments:      p.metrics.Segments.Load(),
		SegmentErrors: p.metrics.SegmentErrors.Load(),
		Heartbeats:    p.metrics.Heartbeats.Load(),
		Messages:      p.metrics.Messages.Load(),
		Rows:          p.metrics.Rows.Load(),
		Unknown:       p.metrics.Unknown.Load(),
		Malformed:     p.metrics.Malformed.Load(),
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	Packets       uint64 // records pulled from the capture source
	HeaderErrors  uint64 // packets skipped for undecodable L2-L4 or segment headers
	Segments      uint64 // segments whose framing decoded cleanly
	SegmentErrors uint64 // packets abandoned for segment framing desync
	Heartbeats    uint64 // segments carrying zero messages
	Messages      uint64 // message blocks seen inside framed segments
	Rows          uint64 // CSV rows written
	Unknown       uint64 // blocks skipped for an unrecognized type tag
	Malformed     uint64 // blocks rejected for layout violations
}
