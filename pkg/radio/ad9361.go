package radio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/fmtx/pkg/iiod"
)

// IIOClient is the subset of the iiod client the AD9361 sink uses.
type IIOClient interface {
	WriteChannelAttr(ctx context.Context, dev string, output bool, ch, attr, value string) error
	ReadChannelAttr(ctx context.Context, dev string, output bool, ch, attr string) (string, error)
	Open(ctx context.Context, dev string, samples int, mask string, cyclic bool) error
	WriteBuffer(ctx context.Context, dev string, p []byte) (int, error)
	CloseBuffer(ctx context.Context, dev string) error
	Close() error
}

// AD9361Config names the IIO devices and channels of the transmit path.
type AD9361Config struct {
	PhyDevice  string        `yaml:"phy_device"`
	TXDevice   string        `yaml:"tx_device"`
	LOChannel  string        `yaml:"lo_channel"`
	TXChannel  string        `yaml:"tx_channel"`
	IQChannels []int         `yaml:"iq_channels"` // scan indices of I and Q on TXDevice
	Timeout    time.Duration `yaml:"timeout"`
}

// DefaultAD9361Config matches the FMCOMMS/Zedboard and Pluto images.
func DefaultAD9361Config() AD9361Config {
	return AD9361Config{
		PhyDevice:  "ad9361-phy",
		TXDevice:   "cf-ad9361-dds-core-lpc",
		LOChannel:  "altvoltage1",
		TXChannel:  "voltage0",
		IQChannels: []int{0, 1},
		Timeout:    5 * time.Second,
	}
}

// Mask renders the channel scan mask the way iiod expects it.
func (c AD9361Config) Mask() (string, error) {
	if len(c.IQChannels) == 0 {
		return "", fmt.Errorf("%w: no TX channels", ErrConfig)
	}
	var m uint32
	for _, idx := range c.IQChannels {
		if idx < 0 || idx > 31 {
			return "", fmt.Errorf("%w: channel index %d", ErrConfig, idx)
		}
		m |= 1 << idx
	}
	return fmt.Sprintf("%08x", m), nil
}

// Attribute IDs on the PHY device.
type Attr int

const (
	TXRFBandwidth Attr = iota
	TXSamplingFrequency
	TXLOFrequency
	TXHardwareGain
	TXLOPowerdown
)

type attrDef struct {
	ID      Attr
	Name    string
	LO      bool // on the LO channel rather than the TX data channel
	Attr    string
	Integer bool
}

// attrTable is in the order Configure applies it.
var attrTable = []attrDef{
	{TXRFBandwidth, "TX_RF_BANDWIDTH", false, "rf_bandwidth", true},
	{TXSamplingFrequency, "TX_SAMPLING_FREQUENCY", false, "sampling_frequency", true},
	{TXLOFrequency, "TX_LO_FREQUENCY", true, "frequency", true},
	{TXHardwareGain, "TX_HARDWAREGAIN", false, "hardwaregain", false},
	{TXLOPowerdown, "TX_LO_POWERDOWN", true, "powerdown", true},
}

func lookupAttr(id Attr) attrDef {
	for _, a := range attrTable {
		if a.ID == id {
			return a
		}
	}
	panic(fmt.Sprintf("radio: unknown attribute %d", id))
}

// AD9361 drives an Analog Devices AD9361 transmitter through iiod.
type AD9361 struct {
	client IIOClient
	cfg    AD9361Config
	log    *log.Logger

	mask    string
	enabled bool
}

// DialAD9361 connects to iiod at uri ("ip:host", "host" or "host:port").
func DialAD9361(ctx context.Context, uri string, cfg AD9361Config, logger *log.Logger) (*AD9361, error) {
	if logger == nil {
		logger = log.Default()
	}
	host := strings.TrimPrefix(uri, "ip:")
	if host == "" {
		return nil, fmt.Errorf("%w: empty iiod address", ErrConfig)
	}

	c, err := iiod.Dial(ctx, host, iiod.Options{Timeout: cfg.Timeout, Logger: logger.WithPrefix("iiod")})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}
	if cfg.Timeout > 0 {
		if err := c.SetTimeout(ctx, cfg.Timeout); err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: %w", ErrResource, err)
		}
	}
	return NewAD9361(c, cfg, logger), nil
}

// NewAD9361 wraps an established client.
func NewAD9361(client IIOClient, cfg AD9361Config, logger *log.Logger) *AD9361 {
	if logger == nil {
		logger = log.Default()
	}
	return &AD9361{client: client, cfg: cfg, log: logger}
}

func (d *AD9361) write(ctx context.Context, id Attr, v float64) error {
	a := lookupAttr(id)
	ch := d.cfg.TXChannel
	if a.LO {
		ch = d.cfg.LOChannel
	}

	var value string
	if a.Integer {
		value = strconv.FormatInt(int64(math.Round(v)), 10)
	} else {
		value = strconv.FormatFloat(v, 'f', 2, 64)
	}

	if err := d.client.WriteChannelAttr(ctx, d.cfg.PhyDevice, true, ch, a.Attr, value); err != nil {
		return classify(fmt.Errorf("set %s=%s: %w", a.Name, value, err))
	}
	d.log.Debug("attribute set", "name", a.Name, "value", value)
	return nil
}

// Configure tunes the transmit path and powers up the LO.
func (d *AD9361) Configure(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	steps := []struct {
		id Attr
		v  float64
	}{
		{TXRFBandwidth, s.Bandwidth},
		{TXSamplingFrequency, s.SampleRate},
		{TXLOFrequency, s.CenterFrequency},
		{TXHardwareGain, s.GainDB},
		{TXLOPowerdown, 0},
	}
	for _, st := range steps {
		if err := d.write(ctx, st.id, st.v); err != nil {
			return err
		}
	}

	lo := lookupAttr(TXLOFrequency)
	if got, err := d.client.ReadChannelAttr(ctx, d.cfg.PhyDevice, true, d.cfg.LOChannel, lo.Attr); err != nil {
		d.log.Warn("LO readback failed", "err", err)
	} else {
		d.log.Info("tuned", "lo_hz", got, "rate", s.SampleRate, "gain_db", s.GainDB)
	}
	return nil
}

// EnableChannels selects the I/Q scan channels for the next buffer.
func (d *AD9361) EnableChannels(ctx context.Context) error {
	mask, err := d.cfg.Mask()
	if err != nil {
		return err
	}
	d.mask = mask
	d.enabled = true
	d.log.Debug("channels enabled", "dev", d.cfg.TXDevice, "mask", mask)
	return nil
}

// CreateBuffer opens a non-cyclic output buffer of capacity samples.
func (d *AD9361) CreateBuffer(ctx context.Context, capacity int) (Buffer, error) {
	if err := checkCapacity(capacity); err != nil {
		return nil, err
	}
	if !d.enabled {
		return nil, fmt.Errorf("%w: channels not enabled on %s", ErrConfig, d.cfg.TXDevice)
	}
	if err := d.client.Open(ctx, d.cfg.TXDevice, capacity, d.mask, false); err != nil {
		return nil, fmt.Errorf("%w: open buffer on %s: %w", ErrResource, d.cfg.TXDevice, err)
	}

	dev := d.cfg.TXDevice
	write := func(ctx context.Context, p []byte) (int, error) {
		n, err := d.client.WriteBuffer(ctx, dev, p)
		if err != nil {
			return n, err
		}
		if n != len(p) {
			return n, fmt.Errorf("short buffer write: %d of %d bytes", n, len(p))
		}
		return n, nil
	}
	closeFn := func() error {
		return d.client.CloseBuffer(context.Background(), dev)
	}
	return newMemBuffer(capacity, true, write, closeFn), nil
}

// DisableChannels drops the scan mask. The buffer must already be closed.
func (d *AD9361) DisableChannels(ctx context.Context) error {
	d.enabled = false
	d.mask = ""
	return nil
}

// PowerDown turns the TX LO off.
func (d *AD9361) PowerDown(ctx context.Context) error {
	return d.write(ctx, TXLOPowerdown, 1)
}

// Close releases the daemon connection.
func (d *AD9361) Close() error {
	return d.client.Close()
}

// BlocksOnPush is true: WRITEBUF returns once the DMA has taken the data.
func (d *AD9361) BlocksOnPush() bool { return true }

// classify tags daemon rejections of a value or name as configuration errors
// and everything else as resource errors.
func classify(err error) error {
	for _, e := range []error{syscall.EINVAL, syscall.ENOENT, syscall.ENODEV, syscall.ERANGE} {
		if errors.Is(err, e) {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrResource, err)
}
