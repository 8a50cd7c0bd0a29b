package sqlite

import "encoding/json"

// parseKids deserializes the stored child-id list. Order is preserved; a
// malformed value (which the store never writes) yields nil.
func parseKids(raw string) []int64 {
	var kids []int64
	if err := json.Unmarshal([]byte(raw), &kids); err != nil {
		return nil
	}
	return kids
}
