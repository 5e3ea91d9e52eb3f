package inbox

import (
	"encoding/json"
	"fmt"

	"github.com/nhle/reminders/internal/model"
)

// decodeList parses a persisted list. Entries without an id are dropped.
func decodeList(data []byte) ([]model.StoredNotification, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var items []model.StoredNotification
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decoding notification list: %w", err)
	}

	out := items[:0]
	for _, n := range items {
		if n.ID == "" {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func encodeList(items []model.StoredNotification) ([]byte, error) {
	if items == nil {
		items = []model.StoredNotification{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encoding notification list: %w", err)
	}
	return data, nil
}
