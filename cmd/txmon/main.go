// txmon prints telemetry from a running transmitter's monitor.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

type telemetry struct {
	Type  string `json:"type"`
	Stats struct {
		Buffers   uint64 `json:"buffers"`
		Modulated uint64 `json:"modulated"`
		Padded    uint64 `json:"padded"`
		Late      uint64 `json:"late"`
		Passes    int    `json:"passes"`
		Reason    string `json:"reason"`
	} `json:"stats"`
	PeakHz   float64 `json:"peak_offset_hz"`
	PeakDBFS float64 `json:"peak_dbfs"`
	Uptime   float64 `json:"uptime_s"`
}

// decodeSpectrum reads a binary spectrum frame: 'S', a reserved byte, a
// little-endian uint16 count and float32 bins.
func decodeSpectrum(b []byte) ([]float32, bool) {
	if len(b) < 4 || b[0] != 'S' {
		return nil, false
	}
	n := int(binary.LittleEndian.Uint16(b[2:]))
	if len(b) < 4+4*n {
		return nil, false
	}
	bins := make([]float32, n)
	for i := range bins {
		bins[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4+4*i:]))
	}
	return bins, true
}

func main() {
	addr := pflag.StringP("addr", "a", "localhost:8080", "Monitor address")
	count := pflag.IntP("count", "n", 0, "Stop after this many telemetry messages (0 runs until interrupted)")
	spectrum := pflag.Bool("spectrum", false, "Also summarize spectrum frames")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	c, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.Fatal("dial", "url", u.String(), "err", err)
	}
	defer c.Close()
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	seen := 0
	for *count == 0 || seen < *count {
		kind, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("connection closed", "err", err)
			}
			return
		}

		if kind == websocket.BinaryMessage {
			if !*spectrum {
				continue
			}
			bins, ok := decodeSpectrum(msg)
			if !ok {
				log.Warn("bad spectrum frame", "bytes", len(msg))
				continue
			}
			peak, level := 0, float32(math.Inf(-1))
			for i, v := range bins {
				if v > level {
					peak, level = i, v
				}
			}
			log.Info("spectrum", "bins", len(bins), "peak_bin", peak-len(bins)/2, "peak_dbfs", level)
			continue
		}

		var t telemetry
		if err := json.Unmarshal(msg, &t); err != nil {
			log.Warn("bad telemetry", "err", err)
			continue
		}
		seen++
		log.Info(t.Stats.Reason,
			"buffers", t.Stats.Buffers,
			"samples", t.Stats.Modulated,
			"padded", t.Stats.Padded,
			"late", t.Stats.Late,
			"passes", t.Stats.Passes,
			"peak_hz", t.PeakHz,
			"uptime", t.Uptime)
	}
}
