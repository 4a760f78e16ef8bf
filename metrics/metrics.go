// Package metrics records counters and latencies for wallet and checkout
// operations.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event and operation names shared by the recorders.
const (
	EventWalletConnected    = "wallet_connected"
	EventWalletDisconnected = "wallet_disconnected"
	EventNetworkSwitched    = "network_switched"
	EventNetworkFailed      = "network_failed"
	EventTransferConfirmed  = "transfer_confirmed"
	EventTransferFailed     = "transfer_failed"
	EventCatalogRequest     = "catalog_request"

	OpCheckout = "checkout"
	OpTransfer = "transfer"
	OpConnect  = "connect"
)

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
