// Package feed is the price feed boundary. Connection and reconnection policy belong to the feed
// implementation; consumers only subscribe and unsubscribe.
package feed

import "time"

// Sample is one price observation for a market.
type Sample struct {
	Market    string
	Price     float64
	Timestamp time.Time
}

// Handler receives samples in delivery order. It must not block for long.
type Handler func(Sample)

// Feed delivers price samples for a market until the returned function is called.
type Feed interface {
	Subscribe(market string, h Handler) (unsubscribe func())
}
