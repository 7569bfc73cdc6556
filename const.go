package hft

import "time"

const (
	// Version is the current version of the pipeline
	Version = "v1.0.0"

	// PriceScale is the number of fixed-point units in one whole price or quantity.
	PriceScale = 100_000_000

	// priceExp is the decimal exponent matching PriceScale.
	priceExp = 8
)

const (
	DefaultRingCapacity    = 1024
	DefaultLogRingCapacity = 1024
	DefaultPollInterval    = 50 * time.Microsecond
	DefaultWaitTimeout     = 50 * time.Millisecond
	DefaultWriteRetryDelay = 50 * time.Microsecond
	DefaultConnectTimeout  = 2 * time.Second
	DefaultGatewayAddr     = "127.0.0.1:9001"
)
