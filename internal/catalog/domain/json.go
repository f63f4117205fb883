package domain

import "encoding/json"

func jsonUnmarshal(data []byte, out any) error { return json.Unmarshal(data, out) }

// MarshalJSONField encodes a value for a datatypes.JSON column, swallowing
// the impossible error for plain structs and slices.
func MarshalJSONField(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
