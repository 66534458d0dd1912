// shmbridge drains the transmitter's shared memory ring into an XDMA
// host-to-card channel, so the FPGA path can be fed from a process that
// owns the ring.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/fmtx/pkg/dma"
	"github.com/fmtx/pkg/shmring"
)

func main() {
	device := pflag.String("dev", dma.DefaultDevice, "XDMA host-to-card device")
	name := pflag.String("shm", "fmtx", "Ring name under /dev/shm")
	block := pflag.Int("block", 4*1024*1024, "Write block size in bytes")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ring, err := shmring.Open(*name)
	if err != nil {
		log.Fatal("open ring", "path", shmring.PathFor(*name), "err", err)
	}
	defer ring.Close()

	w, err := dma.Open(dma.Config{DevicePath: *device, ChunkSize: *block})
	if err != nil {
		log.Fatal("open device", "dev", *device, "err", err)
	}
	defer w.Close()

	log.Info("bridging", "ring", shmring.PathFor(*name), "ring_bytes", ring.Size(), "dev", *device)

	// Start at the writer's current position.
	head, _ := ring.Pointers()
	ring.SetTail(head)
	consumed := ring.Written()

	buf := make([]byte, *block)
	lastReport := time.Now()
	var lastBytes uint64
	for ctx.Err() == nil {
		if lag := ring.Written() - consumed; lag > ring.Size() {
			log.Warn("overrun, resynchronizing", "lost", lag-ring.Size())
			head, _ := ring.Pointers()
			ring.SetTail(head)
			consumed = ring.Written()
			continue
		}

		n := ring.Read(buf)
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		consumed += uint64(n)
		if _, err := w.Write(buf[:n]); err != nil {
			log.Error("device write failed", "err", err)
			break
		}

		if time.Since(lastReport) >= time.Second {
			st := w.Stats()
			mb := float64(st.BytesWritten-lastBytes) / (1024 * 1024)
			log.Info("bridge", "mb_s", mb/time.Since(lastReport).Seconds(), "total_mb", st.BytesWritten/(1024*1024))
			lastReport, lastBytes = time.Now(), st.BytesWritten
		}
	}

	st := w.Stats()
	log.Info("bridge stopped", "bytes", st.BytesWritten, "writes", st.Writes)
}
