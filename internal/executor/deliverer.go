package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSDeliverer publishes outbound messages on aegis.outbound.<tenant>
// for the delivery front end to pick up. Channel selection beyond the
// preference is the front end's concern.
type NATSDeliverer struct {
	conn *nats.Conn
}

// NewNATSDeliverer wraps a NATS connection.
func NewNATSDeliverer(conn *nats.Conn) *NATSDeliverer {
	return &NATSDeliverer{conn: conn}
}

type outboundMessage struct {
	TenantID string `json:"tenant_id"`
	Channel  string `json:"channel"`
	Message  string `json:"message"`
}

// Deliver implements Deliverer.
func (d *NATSDeliverer) Deliver(ctx context.Context, tenantID, channelPref, message string) (Delivery, error) {
	payload, err := json.Marshal(outboundMessage{TenantID: tenantID, Channel: channelPref, Message: message})
	if err != nil {
		return Delivery{}, fmt.Errorf("failed to marshal outbound message: %w", err)
	}
	if err := d.conn.Publish("aegis.outbound."+tenantID, payload); err != nil {
		return Delivery{}, fmt.Errorf("failed to publish outbound message: %w", err)
	}
	return Delivery{Success: true, Channel: channelPref}, nil
}
