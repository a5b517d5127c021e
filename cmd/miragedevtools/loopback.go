package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/miragestream/core/assembler"
	"github.com/miragestream/core/logging"
	"github.com/miragestream/core/pacing"
	"github.com/miragestream/core/sender"
	"github.com/miragestream/core/wire"
)

const loopbackMaxPayload = 1200

var (
	loopbackFrameCount int
	loopbackWidth      int
	loopbackHeight     int
	loopbackFrameBytes int
	loopbackBitrateBps int64
)

var loopbackCmd = &cobra.Command{
	Use:   "loopback",
	Short: "Drive a sender through a loopback UDP socket into an assembler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoopback()
	},
}

func init() {
	loopbackCmd.Flags().IntVar(&loopbackFrameCount, "frames", 30, "number of frames to send")
	loopbackCmd.Flags().IntVar(&loopbackWidth, "width", 1920, "content rect width")
	loopbackCmd.Flags().IntVar(&loopbackHeight, "height", 1080, "content rect height")
	loopbackCmd.Flags().IntVar(&loopbackFrameBytes, "frame-bytes", 32*1024, "synthetic encoded frame size in bytes")
	loopbackCmd.Flags().Int64Var(&loopbackBitrateBps, "bitrate", 40_000_000, "pacer target bitrate in bits/sec")
}

// udpAdapter satisfies sender.DatagramSender over a bound *net.UDPConn.
type udpAdapter struct {
	conn *net.UDPConn
	dst  *net.UDPAddr
}

func (a *udpAdapter) SendDatagram(b []byte) error {
	_, err := a.conn.WriteToUDP(b, a.dst)
	return err
}

func runLoopback() error {
	log := logging.New()

	recvConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return fmt.Errorf("listen recv: %w", err)
	}
	defer recvConn.Close()

	sendConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return fmt.Errorf("listen send: %w", err)
	}
	defer sendConn.Close()

	adapter := &udpAdapter{conn: sendConn, dst: recvConn.LocalAddr().(*net.UDPAddr)}
	pacer := pacing.New(loopbackBitrateBps, loopbackMaxPayload)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snd := sender.New(ctx, adapter, pacer, loopbackMaxPayload, nil, log.With("component", "sender"))
	defer snd.Close()

	done := make(chan struct{})
	received := 0
	asm := assembler.New(loopbackMaxPayload, func(f assembler.Frame) {
		received++
		log.Debugf("assembled frame %d: %d bytes, rect=%+v", f.FrameNumber, len(f.Data), f.Rect)
		if received == loopbackFrameCount {
			close(done)
		}
	}, func() {
		log.Warnf("keyframe requested")
	}, log.With("component", "assembler"))
	asm.SetActive(true)

	go runLoopbackReceiver(recvConn, asm, log)

	for i := 0; i < loopbackFrameCount; i++ {
		isKeyframe := i%30 == 0
		data := make([]byte, loopbackFrameBytes)
		rand.New(rand.NewSource(int64(i))).Read(data)

		fecBlockSize := 0
		if isKeyframe {
			fecBlockSize = 8
		}

		snd.Enqueue(sender.WorkItem{
			EncodedData:    data,
			IsKeyframe:     isKeyframe,
			ContentRect:    wire.ContentRect{W: uint16(loopbackWidth), H: uint16(loopbackHeight)},
			StreamID:       1,
			FrameNumber:    uint32(i),
			FECBlockSize:   fecBlockSize,
			TimestampNs:    uint64(time.Now().UnixNano()),
			DimensionToken: 1,
		})
		time.Sleep(16 * time.Millisecond)
	}

	select {
	case <-done:
		log.Debugf("loopback complete: %d/%d frames assembled", received, loopbackFrameCount)
	case <-time.After(15 * time.Second):
		return fmt.Errorf("timed out: assembled %d/%d frames", received, loopbackFrameCount)
	}
	return nil
}

func runLoopbackReceiver(conn *net.UDPConn, asm *assembler.Assembler, log logging.Logger) {
	buf := make([]byte, 2048)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if n < wire.HeaderSize {
			continue
		}
		hdr, err := wire.Parse(buf[:n])
		if err != nil {
			log.Warnf("loopback receiver: parse header: %v", err)
			continue
		}
		payload := append([]byte(nil), buf[wire.HeaderSize:n]...)
		asm.Ingest(hdr, payload)
	}
}
