// SPDX-License-Identifier: MIT

// Package udp publishes per-session output levels as compact binary packets,
// for meters that cannot afford a websocket.
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"appmix/internal/intercept"
	applog "appmix/internal/log"

	"github.com/sirupsen/logrus"
)

const (
	defaultInterval = 50 * time.Millisecond
	maxAppIDLength  = math.MaxUint8
)

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("udp sender closed")

// PacketSender transmits one packet.
type PacketSender interface {
	Send(data []byte) error
}

// LevelSource supplies the levels to publish.
type LevelSource interface {
	Levels() ([]intercept.Level, error)
}

// UDPPublisher periodically samples session levels, packs them and sends
// them through a PacketSender. It runs in a separate goroutine managed by
// Start and Stop.
type UDPPublisher struct {
	sender   PacketSender
	source   LevelSource
	interval time.Duration
	now      func() time.Time
	log      *logrus.Entry

	mu       sync.Mutex
	ticker   *time.Ticker
	doneChan chan struct{}
	wg       sync.WaitGroup

	sequenceNum uint32
	packet      []byte
}

// NewUDPPublisher creates a publisher. Intervals <= 0 default to 50ms.
func NewUDPPublisher(interval time.Duration, sender PacketSender, source LevelSource) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("udp publisher: sender cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("udp publisher: level source cannot be nil")
	}
	log := applog.Component("meters")
	if interval <= 0 {
		interval = defaultInterval
		log.WithField("interval", interval).Warn("Invalid meter interval, using default")
	}
	return &UDPPublisher{
		sender:   sender,
		source:   source,
		interval: interval,
		now:      time.Now,
		log:      log,
	}, nil
}

// Start begins the periodic publishing. Calling Start while running is a
// no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	ticker, done := p.ticker, p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-done:
				return
			}
		}
	}()
	p.log.WithField("interval", p.interval).Info("Meter publisher started")
}

// Stop signals the publisher goroutine to exit and waits for it.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.doneChan)
	p.ticker.Stop()
	p.ticker = nil
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Debug("Meter publisher stopped")
	return nil
}

// Close implements io.Closer.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

/*
Packet layout (big endian):

	| sequence uint32 | timestamp int64 (ns) | count uint16 | entries... |

each entry:

	| id length uint8 | id bytes | peak float32 |

Application ids longer than 255 bytes are truncated.
*/

func (p *UDPPublisher) publish() {
	levels, err := p.source.Levels()
	if err != nil {
		p.log.WithError(err).Debug("Levels unavailable")
		return
	}

	p.sequenceNum++
	p.packet = AppendPacket(p.packet[:0], p.sequenceNum, p.now(), levels)
	if err := p.sender.Send(p.packet); err != nil {
		p.log.WithError(err).Debug("Meter packet not sent")
	}
}

// AppendPacket encodes one meter packet onto dst.
func AppendPacket(dst []byte, seq uint32, ts time.Time, levels []intercept.Level) []byte {
	count := min(len(levels), math.MaxUint16)
	dst = binary.BigEndian.AppendUint32(dst, seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(ts.UnixNano()))
	dst = binary.BigEndian.AppendUint16(dst, uint16(count))
	for _, l := range levels[:count] {
		id := l.AppID
		if len(id) > maxAppIDLength {
			id = id[:maxAppIDLength]
		}
		dst = append(dst, byte(len(id)))
		dst = append(dst, id...)
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(l.Peak))
	}
	return dst
}

// Packet is a decoded meter packet.
type Packet struct {
	Sequence  uint32
	Timestamp time.Time
	Levels    []intercept.Level
}

// ErrShortPacket reports a truncated packet.
var ErrShortPacket = errors.New("short meter packet")

// DecodePacket parses a packet produced by AppendPacket.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < 14 {
		return Packet{}, ErrShortPacket
	}
	pkt := Packet{
		Sequence:  binary.BigEndian.Uint32(b[0:4]),
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(b[4:12]))),
	}
	count := int(binary.BigEndian.Uint16(b[12:14]))
	b = b[14:]
	pkt.Levels = make([]intercept.Level, 0, count)
	for range count {
		if len(b) < 1 {
			return Packet{}, ErrShortPacket
		}
		n := int(b[0])
		if len(b) < 1+n+4 {
			return Packet{}, ErrShortPacket
		}
		pkt.Levels = append(pkt.Levels, intercept.Level{
			AppID: string(b[1 : 1+n]),
			Peak:  math.Float32frombits(binary.BigEndian.Uint32(b[1+n : 5+n])),
		})
		b = b[5+n:]
	}
	return pkt, nil
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
