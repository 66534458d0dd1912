package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/fmtx/pkg/modulator"
	"github.com/fmtx/pkg/pacer"
)

const (
	// spectrumFrame tags binary websocket messages.
	spectrumFrame = 'S'

	publishInterval = 100 * time.Millisecond
)

// Telemetry is the JSON message sent to websocket clients.
type Telemetry struct {
	Type       string      `json:"type"`
	Stats      pacer.Stats `json:"stats"`
	PeakHz     float64     `json:"peak_offset_hz"`
	PeakDBFS   float64     `json:"peak_dbfs"`
	UptimeSecs float64     `json:"uptime_s"`
}

type Client struct {
	conn *websocket.Conn
	send chan any
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		var err error
		switch v := msg.(type) {
		case []byte:
			err = c.conn.WriteMessage(websocket.BinaryMessage, v)
		default:
			err = c.conn.WriteJSON(v)
		}
		if err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

type frame struct {
	stats   pacer.Stats
	samples []modulator.IQ
}

// Monitor serves read-only telemetry about the running transmission. The
// transmit loop hands it copies of pushed buffers through a one-slot
// channel; frames are dropped while the previous one is still in work.
type Monitor struct {
	log        *log.Logger
	board      *statusBoard
	sampleRate float64
	fftSize    int
	spec       *spectrum

	frames      chan frame
	lastPublish time.Time

	mu      sync.RWMutex
	clients map[*Client]bool

	upgrader websocket.Upgrader
}

func NewMonitor(cfg *Config, board *statusBoard, logger *log.Logger) (*Monitor, error) {
	if logger == nil {
		logger = log.Default()
	}
	n := cfg.Monitor.FFTSize
	if n == 0 {
		n = 1024
	}
	spec, err := newSpectrum(n)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		log:        logger,
		board:      board,
		sampleRate: cfg.Radio.SampleRate,
		fftSize:    n,
		spec:       spec,
		frames:     make(chan frame, 1),
		clients:    make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
		},
	}, nil
}

// Publish records stats and offers the buffer for the spectrum display. It
// never blocks and is called on the transmit goroutine.
func (m *Monitor) Publish(st pacer.Stats, samples []modulator.IQ) {
	m.board.update(func(s *Status) { s.Stats = st })

	now := time.Now()
	if now.Sub(m.lastPublish) < publishInterval {
		return
	}
	if len(m.frames) == cap(m.frames) {
		m.board.update(func(s *Status) { s.Dropped++ })
		return
	}
	m.lastPublish = now

	f := frame{stats: st}
	if len(samples) >= m.fftSize {
		f.samples = append([]modulator.IQ(nil), samples[:m.fftSize]...)
	}
	select {
	case m.frames <- f:
	default:
		m.board.update(func(s *Status) { s.Dropped++ })
	}
}

// Finish sends the final statistics to every client.
func (m *Monitor) Finish(st pacer.Stats) {
	m.board.update(func(s *Status) {
		s.Stats = st
		s.Running = false
	})
	m.broadcast(m.telemetry(st, math.NaN(), math.NaN()))
}

func (m *Monitor) telemetry(st pacer.Stats, peakHz, peakDB float64) Telemetry {
	t := Telemetry{Type: "telemetry", Stats: st}
	if started := m.board.Snapshot().Started; !started.IsZero() {
		t.UptimeSecs = time.Since(started).Seconds()
	}
	// JSON has no NaN
	if !math.IsNaN(peakHz) {
		t.PeakHz, t.PeakDBFS = peakHz, peakDB
	}
	return t
}

// Handler routes /api/status and /ws.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", m.handleStatus)
	mux.HandleFunc("/ws", m.handleWS)
	return mux
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.board.Snapshot())
}

func (m *Monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn("upgrade failed", "err", err)
		return
	}
	m.log.Debug("client connected", "remote", r.RemoteAddr)

	client := &Client{conn: conn, send: make(chan any, 64)}
	client.send <- m.telemetry(m.board.Snapshot().Stats, math.NaN(), math.NaN())
	m.mu.Lock()
	m.clients[client] = true
	m.mu.Unlock()

	go client.writePump()

	defer func() {
		m.mu.Lock()
		if m.clients[client] {
			delete(m.clients, client)
			close(client.send)
		}
		m.mu.Unlock()
		m.log.Debug("client disconnected", "remote", r.RemoteAddr)
	}()

	// The monitor is read-only; incoming messages are discarded.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *Monitor) broadcast(msg any) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for client := range m.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// run turns frames into telemetry and spectrum messages until ctx ends.
func (m *Monitor) run(ctx context.Context) {
	var bins []float64
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-m.frames:
			peakHz, peakDB := math.NaN(), math.NaN()
			if f.samples != nil {
				bins = m.spec.compute(bins, f.samples)
				idx, level := peakBin(bins)
				peakHz, peakDB = binFrequency(idx, len(bins), m.sampleRate), level
				m.broadcast(encodeSpectrum(bins))
			}
			m.broadcast(m.telemetry(f.stats, peakHz, peakDB))
		}
	}
}

// Start listens on addr and serves until ctx is canceled. It returns the
// bound address.
func (m *Monitor) Start(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go m.run(ctx)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("monitor server failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		m.closeClients()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	m.log.Info("monitor listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

func (m *Monitor) closeClients() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for client := range m.clients {
		delete(m.clients, client)
		close(client.send)
	}
}

// encodeSpectrum packs bins as 'S', a reserved byte, a little-endian uint16
// bin count and one float32 dBFS value per bin.
func encodeSpectrum(bins []float64) []byte {
	out := make([]byte, 4+4*len(bins))
	out[0] = spectrumFrame
	binary.LittleEndian.PutUint16(out[2:], uint16(len(bins)))
	for i, v := range bins {
		binary.LittleEndian.PutUint32(out[4+4*i:], math.Float32bits(float32(v)))
	}
	return out
}
