package geofence

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// PortOpener opens a serial port. Replaced in tests.
type PortOpener func(path string, mode *serial.Mode) (io.ReadCloser, error)

func openSerial(path string, mode *serial.Mode) (io.ReadCloser, error) {
	return serial.Open(path, mode)
}

// NMEAReader streams position fixes from a serial NMEA-0183 GPS receiver.
type NMEAReader struct {
	path string
	baud int
	open PortOpener
	log  *slog.Logger
}

// NewNMEAReader creates a reader for the receiver on path.
func NewNMEAReader(path string, baud int, log *slog.Logger) *NMEAReader {
	return &NMEAReader{path: path, baud: baud, open: openSerial, log: log.With("component", "gps")}
}

// Run sends every valid GGA fix to out until ctx is cancelled or the port
// fails. Returns nil after cancellation.
func (r *NMEAReader) Run(ctx context.Context, out chan<- Position) error {
	port, err := r.open(r.path, &serial.Mode{
		BaudRate: r.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open gps port %s: %w", r.path, err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = port.Close()
	}()

	r.log.Info("reading gps", "port", r.path, "baud", r.baud)
	scan := bufio.NewScanner(port)
	for scan.Scan() {
		pos, ok := ParseGGA(scan.Text())
		if !ok {
			continue
		}
		select {
		case out <- pos:
		case <-ctx.Done():
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("read gps port: %w", err)
	}
	return io.ErrUnexpectedEOF
}

// ParseGGA decodes a $xxGGA sentence. Sentences with a bad checksum or no
// fix are rejected.
//
//	$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47
func ParseGGA(line string) (Position, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") || !validChecksum(line) {
		return Position{}, false
	}
	if i := strings.IndexByte(line, '*'); i >= 0 {
		line = line[:i]
	}
	f := strings.Split(line[1:], ",")
	if len(f) < 10 || len(f[0]) != 5 || f[0][2:] != "GGA" {
		return Position{}, false
	}
	if f[6] == "" || f[6] == "0" {
		return Position{}, false
	}
	lat, ok := coordinate(f[2], f[3], 2)
	if !ok {
		return Position{}, false
	}
	lon, ok := coordinate(f[4], f[5], 3)
	if !ok {
		return Position{}, false
	}
	var alt float64
	if f[9] != "" {
		a, err := strconv.ParseFloat(f[9], 64)
		if err != nil {
			return Position{}, false
		}
		alt = a
	}
	return Position{Lat: lat, Lon: lon, Alt: alt}, true
}

// coordinate converts ddmm.mmmm (degWidth=2) or dddmm.mmmm (degWidth=3).
func coordinate(v, hemi string, degWidth int) (float64, bool) {
	if len(v) < degWidth+2 {
		return 0, false
	}
	deg, err := strconv.ParseFloat(v[:degWidth], 64)
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[degWidth:], 64)
	if err != nil {
		return 0, false
	}
	c := deg + mins/60
	switch hemi {
	case "N", "E":
		return c, true
	case "S", "W":
		return -c, true
	}
	return 0, false
}

// validChecksum checks the XOR of the bytes between '$' and '*'. Sentences
// without a checksum are accepted.
func validChecksum(line string) bool {
	star := strings.IndexByte(line, '*')
	if star < 0 {
		return true
	}
	want, err := strconv.ParseUint(line[star+1:], 16, 8)
	if err != nil {
		return false
	}
	var sum byte
	for i := 1; i < star; i++ {
		sum ^= line[i]
	}
	return byte(want) == sum
}
