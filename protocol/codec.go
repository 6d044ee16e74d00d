package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"planning-room-server/domain"
)

func Encode(t domain.MessageType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(domain.Message{Type: t, Payload: raw})
}

func Decode(data []byte) (domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return domain.Message{}, fmt.Errorf("%w: missing type", domain.ErrMalformedMessage)
	}
	return msg, nil
}

// decodePayload unmarshals raw, applies prepare, then validates.
func decodePayload[T any](v *validator.Validate, raw json.RawMessage, prepare ...func(*T)) (T, error) {
	var payload T
	if len(raw) == 0 {
		return payload, fmt.Errorf("%w: missing payload", domain.ErrMalformedMessage)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	for _, fn := range prepare {
		fn(&payload)
	}
	if err := v.Struct(payload); err != nil {
		return payload, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	return payload, nil
}
