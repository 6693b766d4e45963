// Package ingest accepts raw encrypted packets from the wearable,
// decodes them and feeds the pipeline. Packets arrive either from a BLE
// notification callback or relayed over MQTT by the companion app; both
// paths funnel through the Adapter.
package ingest

import (
	"log/slog"
	"strings"
	"sync"

	"vitalguard/internal/codec"
	"vitalguard/internal/config"
	"vitalguard/internal/events"
	"vitalguard/internal/model"
)

type packet struct {
	kind model.FrameKind
	raw  []byte
}

// Adapter turns characteristic notifications into decoded sensor frames.
// Each characteristic gets its own bounded queue with a single worker, so
// frames of one kind are delivered in notification order while a burst on
// one characteristic cannot starve the others. A full queue evicts its
// oldest packet rather than blocking the BLE callback; fresh data beats
// stale data for every kind carried here.
type Adapter struct {
	codec  *codec.Codec
	chars  map[string]model.FrameKind
	out    chan model.SensorFrame
	bus    *events.Bus
	logger *slog.Logger

	mu     sync.Mutex
	queues map[model.FrameKind]chan packet
	wg     sync.WaitGroup
	closed bool
}

func NewAdapter(cfg config.DeviceConfig, c *codec.Codec, bus *events.Bus, logger *slog.Logger) *Adapter {
	chars := make(map[string]model.FrameKind, len(cfg.Characteristics))
	for uuid, kind := range cfg.Characteristics {
		chars[strings.ToLower(uuid)] = model.FrameKind(kind)
	}
	a := &Adapter{
		codec:  c,
		chars:  chars,
		out:    make(chan model.SensorFrame, cfg.FrameBuffer),
		bus:    bus,
		logger: logger,
		queues: make(map[model.FrameKind]chan packet),
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 32
	}
	for _, kind := range chars {
		if _, ok := a.queues[kind]; ok {
			continue
		}
		q := make(chan packet, depth)
		a.queues[kind] = q
		a.wg.Add(1)
		go a.worker(kind, q)
	}
	return a
}

// Frames is the decoded output stream consumed by the pipeline.
func (a *Adapter) Frames() <-chan model.SensorFrame {
	return a.out
}

// OnPacket is the notification entry point. Safe for concurrent use; it
// never blocks.
func (a *Adapter) OnPacket(characteristic string, raw []byte) {
	kind, ok := a.chars[strings.ToLower(characteristic)]
	if !ok {
		a.drop(model.FrameKind("unknown"), "unmapped characteristic")
		if a.logger != nil {
			a.logger.Warn("packet for unmapped characteristic", "characteristic", characteristic)
		}
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	q := a.queues[kind]
	a.mu.Unlock()

	buf := make([]byte, len(raw))
	copy(buf, raw)
	select {
	case q <- packet{kind: kind, raw: buf}:
		return
	default:
	}
	select {
	case <-q:
		a.drop(kind, "queue full")
		if a.logger != nil {
			a.logger.Warn("ingest queue full, oldest packet dropped", "kind", kind)
		}
	default:
	}
	select {
	case q <- packet{kind: kind, raw: buf}:
	default:
		a.drop(kind, "queue full")
	}
}

// Close stops the workers and closes the frame stream once all queued
// packets are decoded.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	for _, q := range a.queues {
		close(q)
	}
	a.mu.Unlock()
	a.wg.Wait()
	close(a.out)
}

func (a *Adapter) worker(kind model.FrameKind, q <-chan packet) {
	defer a.wg.Done()
	for pkt := range q {
		frame, err := a.codec.Decode(pkt.raw, pkt.kind)
		if err != nil {
			a.drop(kind, "decode failed")
			if a.logger != nil {
				a.logger.Warn("frame decode failed", "kind", kind, "err", err)
			}
			continue
		}
		select {
		case a.out <- frame:
		default:
			a.drop(kind, "frame buffer full")
			if a.logger != nil {
				a.logger.Warn("frame buffer full, frame dropped", "kind", kind)
			}
		}
	}
}

func (a *Adapter) drop(kind model.FrameKind, reason string) {
	if a.bus != nil {
		a.bus.Publish(model.FrameDropped{Kind: kind, Reason: reason})
	}
}
