package command

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"lock-approach.klederson.com/internal/config"
	"lock-approach.klederson.com/internal/ranging"
)

// Writer is the lock's command channel.
type Writer interface {
	Write(cmd string)
}

// Dispatcher is the only component that writes to the command channel.
type Dispatcher struct {
	w      Writer
	settle time.Duration
	log    *slog.Logger
	now    func() time.Time
}

// New creates a dispatcher that waits settle after notification
// subscription before requesting anchor addresses.
func New(w Writer, settle time.Duration, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		w:      w,
		settle: settle,
		log:    log.With("component", "dispatcher"),
		now:    time.Now,
	}
}

// RequestAnchorAddresses writes the address-exchange request once settle
// has elapsed since subscribedAt. It returns false if ctx ends first.
func (d *Dispatcher) RequestAnchorAddresses(ctx context.Context, subscribedAt time.Time) bool {
	wait := subscribedAt.Add(d.settle).Sub(d.now())
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
	if ctx.Err() != nil {
		return false
	}
	d.log.Debug("requesting anchor addresses")
	d.w.Write(config.CmdRequestAnchors)
	return true
}

// SendConfirmation writes the approach-confirmed command.
func (d *Dispatcher) SendConfirmation() {
	d.log.Info("sending approach confirmation")
	d.w.Write(config.CmdConfirm)
}

// IsAddressReply reports whether payload belongs to the address exchange.
func IsAddressReply(payload string) bool {
	return strings.HasPrefix(payload, config.ReplyAnchorsTag+":")
}

// ParseAddressReply decodes "UWB_IDS:<hexOutside>:<hexInside>". Anything
// else, including a wrong part count or bad hex, yields ok=false.
func ParseAddressReply(payload string) (ranging.AnchorPair, bool) {
	parts := strings.Split(strings.TrimSpace(payload), ":")
	if len(parts) != 3 || parts[0] != config.ReplyAnchorsTag {
		return ranging.AnchorPair{}, false
	}
	outside, err := ranging.DecodeAddress(parts[1])
	if err != nil {
		return ranging.AnchorPair{}, false
	}
	inside, err := ranging.DecodeAddress(parts[2])
	if err != nil {
		return ranging.AnchorPair{}, false
	}
	return ranging.NewAnchorPair(outside, inside), true
}

// OnAddressExchangeReply parses a notification payload. Malformed replies
// are dropped silently; no retry is issued.
func (d *Dispatcher) OnAddressExchangeReply(payload string) (ranging.AnchorPair, bool) {
	pair, ok := ParseAddressReply(payload)
	if !ok {
		d.log.Debug("ignoring malformed address reply", "payload", payload)
		return ranging.AnchorPair{}, false
	}
	d.log.Info("anchor addresses received",
		"outside", pair.Outside.Address, "inside", pair.Inside.Address)
	return pair, true
}
