package broker

import "encoding/json"

func decode(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}
