// shmpeek attaches to the transmitter's shared memory ring and reports head
// movement and the newest I/Q pair.
package main

import (
	"encoding/binary"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/fmtx/pkg/shmring"
)

func main() {
	name := pflag.StringP("name", "n", "fmtx", "Ring name under /dev/shm")
	interval := pflag.DurationP("interval", "i", 500*time.Millisecond, "Report interval")
	pflag.Parse()

	log.Info("connecting", "path", shmring.PathFor(*name))
	ring, err := shmring.Open(*name)
	if err != nil {
		log.Fatal("open ring", "err", err)
	}
	defer ring.Close()

	log.Info("reading, press Ctrl+C to stop", "bytes", ring.Size(), "rate", ring.SampleRate())

	var last [4]byte
	lastWritten := ring.Written()
	lastTime := time.Now()
	for {
		time.Sleep(*interval)

		written := ring.Written()
		if written == lastWritten {
			continue
		}
		now := time.Now()
		moved := written - lastWritten
		// 4 bytes per I/Q pair
		rate := float64(moved/4) / now.Sub(lastTime).Seconds()

		head, _ := ring.Pointers()
		ring.Latest(last[:])
		log.Info("ring",
			"head", head,
			"moved", moved,
			"samples_per_s", int64(rate),
			"i", int16(binary.LittleEndian.Uint16(last[0:])),
			"q", int16(binary.LittleEndian.Uint16(last[2:])))

		lastWritten, lastTime = written, now
	}
}
