package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

const monitorServiceType = "_fmtx._tcp"

// announce advertises the monitor on the local network until ctx ends.
func announce(ctx context.Context, name string, port int, st Status, logger *log.Logger) error {
	cfg := dnssd.Config{
		Name: name,
		Type: monitorServiceType,
		Port: port,
		Text: map[string]string{
			"path":      "/ws",
			"status":    "/api/status",
			"frequency": strconv.FormatFloat(st.Settings.CenterFrequency, 'f', 0, 64),
			"mode":      st.Mode,
		},
	}

	sv, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("dns-sd service: %w", err)
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("dns-sd responder: %w", err)
	}
	if _, err := rp.Add(sv); err != nil {
		return fmt.Errorf("dns-sd add: %w", err)
	}

	logger.Info("announcing monitor", "name", name, "type", monitorServiceType, "port", port)
	go func() {
		if err := rp.Respond(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("dns-sd responder stopped", "err", err)
		}
	}()
	return nil
}
