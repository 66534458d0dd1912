package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"

	"github.com/fmtx/pkg/radio"
)

const defaultGPIOChip = "gpiochip0"

// gpioLine is the part of a requested GPIO line PTT drives.
type gpioLine interface {
	SetValue(value int) error
	Close() error
}

// PTT keys an external power amplifier. The line is requested inactive and
// stays that way until Key.
type PTT struct {
	name  string
	line  gpioLine
	keyed bool
	log   *log.Logger
}

// OpenPTT requests the line named by cfg as an output.
func OpenPTT(cfg PTTConfig, logger *log.Logger) (*PTT, error) {
	chip, offset, err := parsePTTLine(cfg.Line)
	if err != nil {
		return nil, err
	}
	opts := []gpiocdev.LineReqOption{gpiocdev.WithConsumer("fmtx"), gpiocdev.AsOutput(0)}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	l, err := gpiocdev.RequestLine(chip, offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: request PTT line %s: %w", radio.ErrResource, cfg.Line, err)
	}
	return newPTT(cfg.Line, l, logger), nil
}

func newPTT(name string, l gpioLine, logger *log.Logger) *PTT {
	if logger == nil {
		logger = log.Default()
	}
	return &PTT{name: name, line: l, log: logger}
}

// Key turns the amplifier on.
func (p *PTT) Key() error {
	if err := p.line.SetValue(1); err != nil {
		return fmt.Errorf("key PTT %s: %w", p.name, err)
	}
	p.keyed = true
	p.log.Info("PTT keyed", "line", p.name)
	return nil
}

// Unkey turns the amplifier off. It is a no-op when not keyed.
func (p *PTT) Unkey() error {
	if !p.keyed {
		return nil
	}
	if err := p.line.SetValue(0); err != nil {
		return fmt.Errorf("unkey PTT %s: %w", p.name, err)
	}
	p.keyed = false
	p.log.Info("PTT released", "line", p.name)
	return nil
}

// Close unkeys and releases the line.
func (p *PTT) Close() error {
	uerr := p.Unkey()
	if err := p.line.Close(); err != nil {
		return err
	}
	return uerr
}

// parsePTTLine splits "chip:offset". A bare offset is on gpiochip0.
func parsePTTLine(s string) (string, int, error) {
	chip, off, found := strings.Cut(s, ":")
	if !found {
		chip, off = defaultGPIOChip, s
	}
	offset, err := strconv.Atoi(off)
	if err != nil || offset < 0 || chip == "" {
		return "", 0, fmt.Errorf("%w: PTT line %q, want chip:offset", radio.ErrConfig, s)
	}
	return chip, offset, nil
}
