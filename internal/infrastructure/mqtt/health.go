package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DataSourceHealth is the payload on Topics.DataSourceHealth.
type DataSourceHealth struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Running reports whether the status means the data source is polling.
func (h DataSourceHealth) Running() bool {
	return strings.EqualFold(h.Status, "running")
}

// DataSourceHealthHandler returns a MessageHandler for
// Topics.AllDataSourceHealth that decodes each message and calls update
// with the data source's XID and running state.
func DataSourceHealthHandler(update func(xid string, running bool)) MessageHandler {
	return func(topic string, payload []byte) error {
		xid, err := DataSourceXID(topic)
		if err != nil {
			return err
		}

		// An empty retained message clears state.
		if len(payload) == 0 {
			update(xid, false)
			return nil
		}

		var h DataSourceHealth
		if err := json.Unmarshal(payload, &h); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, topic, err)
		}
		update(xid, h.Running())
		return nil
	}
}
