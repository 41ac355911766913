package ranging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// PortOpener opens a serial port. Replaced in tests.
type PortOpener func(path string, mode *serial.Mode) (io.ReadWriteCloser, error)

func openSerial(path string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	return serial.Open(path, mode)
}

// SerialBackend drives a UART-attached UWB controller module.
//
// Host to module:
//
//	SESSION id=<id> cfg=<type> ch=<channel> pre=<preamble> rate=<rate> peers=<hex>,<hex>
//	STOP
//
// Module to host:
//
//	RANGE <hexAddr> <distanceCm>
//	LOST <hexAddr>
//	ERR <text>
type SerialBackend struct {
	path string
	baud int
	open PortOpener
	list func() ([]string, error)

	once      sync.Once
	available bool
}

// NewSerialBackend creates a backend for the module on path.
func NewSerialBackend(path string, baud int) *SerialBackend {
	return &SerialBackend{
		path: path,
		baud: baud,
		open: openSerial,
		list: serial.GetPortsList,
	}
}

// Available reports whether the configured port exists. Probed once.
func (b *SerialBackend) Available() bool {
	b.once.Do(func() {
		ports, err := b.list()
		if err != nil {
			return
		}
		for _, p := range ports {
			if p == b.path {
				b.available = true
				return
			}
		}
	})
	return b.available
}

// Run opens the port, configures the session and streams measurements.
func (b *SerialBackend) Run(ctx context.Context, p Params, emit func(Result)) error {
	port, err := b.open(b.path, &serial.Mode{
		BaudRate: b.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open uwb port %s: %w", b.path, err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_, _ = io.WriteString(port, "STOP\r\n")
		case <-done:
		}
		// Closing unblocks the scanner below.
		_ = port.Close()
	}()

	if _, err := io.WriteString(port, sessionCommand(p)); err != nil {
		return fmt.Errorf("configure uwb session: %w", err)
	}

	scan := bufio.NewScanner(port)
	for scan.Scan() {
		res, err := parseLine(scan.Text())
		if err != nil {
			return err
		}
		if res == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		emit(*res)
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("read uwb port: %w", err)
	}
	return io.ErrUnexpectedEOF
}

func sessionCommand(p Params) string {
	peers := make([]string, len(p.Peers))
	for i, a := range p.Peers {
		peers[i] = a.String()
	}
	return fmt.Sprintf("SESSION id=%d cfg=%s ch=%d pre=%d rate=%s peers=%s\r\n",
		p.SessionID, p.ConfigType, p.Channel, p.Preamble, p.UpdateRate, strings.Join(peers, ","))
}

// parseLine returns nil for lines that carry no measurement.
func parseLine(line string) (*Result, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}
	switch strings.ToUpper(fields[0]) {
	case "RANGE":
		if len(fields) != 3 {
			return nil, nil
		}
		addr, err := DecodeAddress(fields[1])
		if err != nil {
			return nil, nil
		}
		cm, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, nil
		}
		return &Result{Address: addr, DistanceCm: cm}, nil
	case "LOST":
		if len(fields) != 2 {
			return nil, nil
		}
		addr, err := DecodeAddress(fields[1])
		if err != nil {
			return nil, nil
		}
		return &Result{Address: addr, PeerDisconnected: true}, nil
	case "ERR":
		return nil, errors.New("uwb module: " + strings.TrimSpace(strings.TrimPrefix(line, fields[0])))
	}
	return nil, nil
}
