package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"lowpansniff/internal/capture"
	"lowpansniff/internal/config"
	"lowpansniff/internal/log"
	"lowpansniff/internal/metrics"
	"lowpansniff/internal/models"
	"lowpansniff/internal/parser"
	"lowpansniff/internal/topology"
)

// ErrAlreadyRunning is returned when a second capture is started.
var ErrAlreadyRunning = errors.New("engine: capture already running")

// pcap replay pacing: yield every paceEvery packets so clients can keep up.
const (
	paceEvery = 200
	paceDelay = 5 * time.Millisecond
)

// Client represents a connected WebSocket client that receives packets.
type Client interface {
	SendMessage(msg models.WSMessage) error
}

// Engine runs sniffer bytes through split, decode and topology registration
// and broadcasts the results to clients.
type Engine struct {
	cfg      config.Config
	norm     *topology.Normalizer
	registry *topology.Registry
	logger   log.Logger

	// pipeMu serializes frame processing so packets keep arrival order.
	pipeMu   sync.Mutex
	splitter *capture.Splitter
	recorder *capture.Recorder

	mu        sync.Mutex
	clients   map[Client]bool
	ring      *packetRing
	running   bool
	sessionID string
	source    string
	startTime time.Time
	stats     models.CaptureStats
}

// New creates an Engine from cfg.
func New(cfg *config.Config) (*Engine, error) {
	norm, err := topology.NewNormalizer(cfg.Topology.SitePrefix, cfg.Topology.ExcludePrefixes)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      *cfg,
		norm:     norm,
		registry: topology.NewRegistry(norm),
		logger:   log.GetLogger().WithField("component", "engine"),
		splitter: capture.NewSplitter(cfg.Capture.MaxFrameSize),
		clients:  make(map[Client]bool),
		ring:     newPacketRing(cfg.Engine.MaxPackets),
	}, nil
}

// SetRecorder makes the engine write every frame to r.
func (e *Engine) SetRecorder(r *capture.Recorder) {
	e.pipeMu.Lock()
	defer e.pipeMu.Unlock()
	e.recorder = r
}

// RegisterClient adds a client to receive packet broadcasts.
func (e *Engine) RegisterClient(c Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clients[c] = true
}

// UnregisterClient removes a client.
func (e *Engine) UnregisterClient(c Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.clients, c)
}

// Run reads src until it ends or ctx is cancelled, feeding every chunk to
// HandleChunk. src is closed on cancellation when it is an io.Closer so a
// blocked read returns.
func (e *Engine) Run(ctx context.Context, src io.Reader, label string) error {
	if err := e.begin(label); err != nil {
		return err
	}
	defer e.end()

	if c, ok := src.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	buf := make([]byte, e.cfg.Capture.ChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			e.HandleChunk(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read sniffer source: %w", err)
		}
	}
}

// LoadPcap replays a capture file through the pipeline as a new session.
func (e *Engine) LoadPcap(path string) error {
	reader, err := capture.NewPcapReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := e.begin(path); err != nil {
		return err
	}
	defer e.end()
	e.Reset()

	batch := 0
	for {
		f, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read pcap %q: %w", path, err)
		}

		e.mu.Lock()
		if e.startTime.IsZero() {
			e.startTime = f.Timestamp
		}
		e.mu.Unlock()

		e.pipeMu.Lock()
		e.handleFrame(f.Data, f.Timestamp)
		e.pipeMu.Unlock()

		batch++
		if batch >= paceEvery {
			batch = 0
			time.Sleep(paceDelay)
		}
	}
}

// HandleChunk splits chunk into frames and processes each one. A frame that
// fails to decode is counted and logged; it never stops the others.
func (e *Engine) HandleChunk(chunk []byte) {
	e.pipeMu.Lock()
	defer e.pipeMu.Unlock()

	var frames [][]byte
	if e.cfg.Capture.BufferTail {
		before := e.splitter.Dropped()
		frames = e.splitter.Split(chunk)
		if n := e.splitter.Dropped() - before; n > 0 {
			metrics.FramesDiscardedTotal.Add(float64(n))
			e.mu.Lock()
			e.stats.DiscardedTails += n
			e.mu.Unlock()
		}
	} else {
		for _, f := range capture.SplitFrames(chunk) {
			frames = append(frames, append([]byte(nil), f...))
		}
	}

	now := time.Now()
	for _, f := range frames {
		e.handleFrame(f, now)
	}
}

// handleFrame runs one frame through decode and registration. Callers hold
// pipeMu.
func (e *Engine) handleFrame(frame []byte, ts time.Time) {
	metrics.FramesTotal.Inc()
	e.mu.Lock()
	e.stats.FrameCount++
	e.mu.Unlock()

	if e.recorder != nil {
		if err := e.recorder.Record(frame, ts); err != nil {
			e.logger.WithError(err).Warn("recording frame failed")
		}
	}

	start := time.Now()
	p, err := parser.Decode(frame)
	metrics.DecodeSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		kind := parser.ErrorKind(err)
		metrics.DecodeErrorsTotal.WithLabelValues(kind).Inc()
		e.mu.Lock()
		e.stats.DecodeErrors++
		e.mu.Unlock()
		e.logger.WithFields(map[string]interface{}{
			"kind":      kind,
			"frame_hex": hex.EncodeToString(frame),
		}).WithError(err).Debug("dropping frame")
		return
	}
	p.CreatedAt = ts

	if !p.ChecksumValid {
		metrics.ChecksumInvalidTotal.Inc()
		e.mu.Lock()
		e.stats.InvalidChecksum++
		e.mu.Unlock()
		e.logger.WithFields(map[string]interface{}{
			"src":      e.norm.Format(p.Src),
			"dst":      e.norm.Format(p.Dst),
			"checksum": p.Checksum,
		}).Info("ICMPv6 checksum mismatch")
		if !e.cfg.Engine.AcceptInvalidChecksum {
			return
		}
	}
	metrics.PacketsTotal.WithLabelValues(p.Kind.Protocol().String()).Inc()

	e.mu.Lock()
	e.stats.PacketCount++
	num := e.stats.PacketCount
	startTime := e.startTime
	e.mu.Unlock()

	info := parser.Parse(p, num, startTime, e.norm.Format)
	events := e.registry.RegisterPacket(p)
	nodes, edges := e.registry.Counts()
	metrics.TopologyNodes.Set(float64(nodes))
	metrics.TopologyEdges.Set(float64(edges))

	e.mu.Lock()
	e.ring.push(info)
	e.stats.NodeCount, e.stats.EdgeCount = nodes, edges
	e.mu.Unlock()

	e.broadcastJSON(models.MsgPacket, info)
	for _, ev := range events {
		e.broadcastJSON(models.MsgTopologyEvent, ev)
	}
}

// Packets returns the retained packets, oldest first.
func (e *Engine) Packets() []models.PacketInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ring.list()
}

// PacketDetail returns a retained packet with its header tree and hex dump.
func (e *Engine) PacketDetail(number int) (models.PacketInfo, bool) {
	e.mu.Lock()
	info, ok := e.ring.find(number)
	e.mu.Unlock()
	if !ok {
		return models.PacketInfo{}, false
	}
	info.Layers, info.HexDump = parser.Details(info.Packet)
	return info, true
}

// Topology returns the current graph.
func (e *Engine) Topology() models.TopologySnapshot {
	return e.registry.Snapshot()
}

// Nodes summarizes every node in the graph.
func (e *Engine) Nodes() []models.NodeInfo {
	return e.registry.NodeInfos()
}

// Stats returns pipeline counters.
func (e *Engine) Stats() models.CaptureStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Session returns the active capture session, if any.
func (e *Engine) Session() (models.CaptureStarted, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.CaptureStarted{SessionID: e.sessionID, Source: e.source}, e.running
}

// Reset clears packets, topology and counters.
func (e *Engine) Reset() {
	e.pipeMu.Lock()
	e.splitter.Reset()
	e.pipeMu.Unlock()

	e.registry.Reset()
	metrics.TopologyNodes.Set(0)
	metrics.TopologyEdges.Set(0)

	e.mu.Lock()
	e.ring.reset()
	e.stats = models.CaptureStats{}
	e.startTime = time.Time{}
	e.mu.Unlock()
}

func (e *Engine) begin(source string) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.sessionID = uuid.NewString()
	e.source = capture.DescribeSource(source)
	if e.startTime.IsZero() {
		e.startTime = time.Now()
	}
	started := models.CaptureStarted{SessionID: e.sessionID, Source: e.source}
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"session": started.SessionID,
		"source":  started.Source,
	}).Info("capture started")
	e.broadcastJSON(models.MsgCaptureStarted, started)
	return nil
}

func (e *Engine) end() {
	e.mu.Lock()
	e.running = false
	session := e.sessionID
	stats := e.stats
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"session": session,
		"frames":  stats.FrameCount,
		"packets": stats.PacketCount,
		"errors":  stats.DecodeErrors,
	}).Info("capture stopped")
	e.broadcastJSON(models.MsgCaptureStopped, stats)
}

func (e *Engine) broadcastJSON(typ string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		e.logger.WithError(err).Errorf("encode %s message", typ)
		return
	}
	e.broadcast(models.WSMessage{Type: typ, Payload: payload})
}

func (e *Engine) broadcast(msg models.WSMessage) {
	e.mu.Lock()
	clients := make([]Client, 0, len(e.clients))
	for c := range e.clients {
		clients = append(clients, c)
	}
	e.mu.Unlock()

	for _, c := range clients {
		c.SendMessage(msg)
	}
}
