package audit

import (
	"encoding/json"
	"log"
)

// Logger is the append-only audit sink. Terminal order, shipment and seller
// outcomes are logged here before the owning actor discards its state, so
// the trail survives deletion. Audit failures are reported but never fail
// the business operation.
type Logger interface {
	Log(category, key string, payload any)
}

// StdLogger writes audit records to the process log.
type StdLogger struct{}

func NewStdLogger() *StdLogger {
	return &StdLogger{}
}

func (l *StdLogger) Log(category, key string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Audit] %s %s: failed to marshal payload: %v", category, key, err)
		return
	}
	log.Printf("[Audit] %s %s %s", category, key, data)
}
