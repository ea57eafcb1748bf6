package triggers

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"go.uber.org/zap"
)

const (
	sacnPort          = 5568
	acnPacketID       = "ASC-E1.17\x00\x00\x00"
	rootVectorData    = 0x00000004
	framingVectorData = 0x00000002
)

func (d *Dispatcher) runSACN(ctx context.Context, opts SACNOptions) error {
	group := &net.UDPAddr{
		IP:   net.IPv4(239, 255, byte(opts.Universe>>8), byte(opts.Universe&0xff)),
		Port: sacnPort,
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return fmt.Errorf("join sacn multicast: %w", err)
	}
	defer conn.Close()
	d.log.Info("sacn listener started",
		zap.String("group", group.String()),
		zap.Int("universe", opts.Universe),
		zap.Int("channel", opts.Channel),
		zap.Int("threshold", opts.Threshold))

	return d.pump(ctx, conn, SourceSACN, opts.Threshold, func(b []byte) (byte, bool) {
		return decodeE131(b, opts.Universe, opts.Channel)
	})
}

// decodeE131 extracts the value of a 1-based DMX channel from an E1.31 data
// frame for the given universe. Frames with a non-zero start code carry
// something other than dimmer levels and are dropped.
func decodeE131(b []byte, universe int, channel int) (byte, bool) {
	if len(b) < 126 {
		return 0, false
	}
	if string(b[4:16]) != acnPacketID {
		return 0, false
	}
	if binary.BigEndian.Uint32(b[18:22]) != rootVectorData {
		return 0, false
	}
	if binary.BigEndian.Uint32(b[40:44]) != framingVectorData {
		return 0, false
	}
	if int(binary.BigEndian.Uint16(b[113:115])) != universe {
		return 0, false
	}
	if b[125] != 0x00 {
		return 0, false
	}
	data := b[126:]
	if count := int(binary.BigEndian.Uint16(b[123:125])); count > 0 && count-1 < len(data) {
		data = data[:count-1]
	}
	ch := clampChannel(channel)
	if ch > len(data) {
		return 0, false
	}
	return data[ch-1], true
}
