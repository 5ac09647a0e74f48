package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outbound payloads. Value payloads are a few bytes; the
// config snapshot is well under 1KB.
const maxPayloadSize = 64 << 10

// validateTopicQoS checks the arguments shared by Publish and Subscribe.
func validateTopicQoS(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// Publish sends a message and waits for the broker acknowledgment.
//
// Parameters:
//   - topic: Full topic (see Topics)
//   - payload: Message payload
//   - qos: 0, 1, or 2 (value updates use 1)
//   - retained: Whether the broker keeps the last message for new subscribers
//
// Returns:
//   - error: ErrNotConnected while paho is reconnecting, ErrPublishFailed on
//     timeout or broker error, ErrInvalidTopic/ErrInvalidQoS for bad arguments
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validateTopicQoS(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
