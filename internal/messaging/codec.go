package messaging

import (
	"bytes"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"example.com/backstage/services/taskstatus/internal/models"
)

// ErrDecode marks a payload that is not a usable item event
var ErrDecode = errors.New("malformed item event")

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// DecodeItemEvent parses and validates an inbound item event. Numbers inside
// content are kept as json.Number so millisecond timestamps survive intact.
func DecodeItemEvent(payload []byte) (models.ItemEvent, error) {
	var event models.ItemEvent

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&event); err != nil {
		return models.ItemEvent{}, errors.Wrapf(ErrDecode, "invalid json: %v", err)
	}

	if err := validate.Struct(event); err != nil {
		return models.ItemEvent{}, errors.Wrapf(ErrDecode, "invalid event: %v", err)
	}

	return event, nil
}

// EncodeItemEvent serializes an item event in its wire format
func EncodeItemEvent(event models.ItemEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal item event")
	}
	return data, nil
}

// RoutingKey extracts the item uid without validating the rest of the payload.
// A payload that cannot be read yields the empty key.
func RoutingKey(payload []byte) string {
	var head struct {
		ItemUID string `json:"itemUid"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return ""
	}
	return head.ItemUID
}
