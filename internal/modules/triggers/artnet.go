package triggers

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"
)

const (
	artNetMagic = "Art-Net\x00"
	opArtDMX    = 0x5000
)

func (d *Dispatcher) runArtNet(ctx context.Context, opts ArtNetOptions) error {
	addr := net.JoinHostPort(opts.ListenHost, strconv.Itoa(opts.Port))
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("listen artnet: %w", err)
	}
	defer conn.Close()
	d.log.Info("artnet listener started",
		zap.String("addr", addr),
		zap.Int("universe", opts.Universe),
		zap.Int("channel", opts.Channel),
		zap.Int("threshold", opts.Threshold))

	return d.pump(ctx, conn, SourceArtNet, opts.Threshold, func(b []byte) (byte, bool) {
		return decodeArtDMX(b, opts.Universe, opts.Channel)
	})
}

// decodeArtDMX extracts the value of a 1-based DMX channel from an ArtDMX
// datagram addressed to the given universe. ok is false for any other
// packet: wrong magic, wrong opcode, foreign universe, or data too short.
func decodeArtDMX(b []byte, universe int, channel int) (byte, bool) {
	if len(b) < 18 {
		return 0, false
	}
	if string(b[0:8]) != artNetMagic {
		return 0, false
	}
	if binary.LittleEndian.Uint16(b[8:10]) != opArtDMX {
		return 0, false
	}
	if int(binary.LittleEndian.Uint16(b[14:16])) != universe {
		return 0, false
	}
	length := int(binary.BigEndian.Uint16(b[16:18]))
	data := b[18:]
	if length < len(data) {
		data = data[:length]
	}
	ch := clampChannel(channel)
	if ch > len(data) {
		return 0, false
	}
	return data[ch-1], true
}
