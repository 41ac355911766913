package config

import "time"

const (
	// Lock GATT profile
	ServiceUUID = "12345678-1234-1234-1234-1234567890ab" // advertised by the lock
	CommandUUID = "abcd1234-5678-90ab-cdef-1234567890ab" // write + notify

	// Command channel
	CmdRequestAnchors = "REQ_UWB_IDS"
	CmdConfirm        = "READY"
	ReplyAnchorsTag   = "UWB_IDS"

	// Decision thresholds
	RangingThresholdCm  = 300.0
	RangingExitMarginCm = 50.0
	SignalThresholdDBm  = -70
	SignalMarginDB      = 10

	// Ranging session (DS-TWR unicast, MK8000 defaults)
	RangingChannel   = 9
	RangingPreamble  = 10
	RangingSessionID = 12345

	// Timing
	SignalPollInterval = 1 * time.Second
	AddressSettleDelay = 500 * time.Millisecond
	LogInterval        = 5 * time.Second
	ConfigPollInterval = 2 * time.Second

	// RSSI to distance estimation (display only)
	MeasuredPower = -59.0 // RSSI at 1 meter (dBm)
	PathLossExp   = 2.5   // Path loss exponent (N)

	// Geofence arming
	ArmRadiusM    = 100.0
	DisarmRadiusM = 150.0

	// Log sink
	LogRetain = 100

	// UI
	TargetFPS = 10

	// App
	AppName           = "LOCK-APPROACH"
	AppVersion        = "1.0"
	DefaultConfigPath = "lock-approach.yaml"
)
