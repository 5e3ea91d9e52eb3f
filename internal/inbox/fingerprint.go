package inbox

import (
	"sort"
	"strings"

	"github.com/nhle/reminders/internal/model"
)

// fingerprint derives the soft-dedup key for ev. Events carrying a natural
// key include it, so two distinct reminders with the same wording are not
// collapsed. Other events with an action payload include the whole
// payload for the same reason.
func fingerprint(ev model.NotificationEvent) string {
	parts := []string{string(ev.Type), ev.Title, ev.Message}

	if key := ev.NaturalKey(); key != "" {
		return strings.Join(append(parts, key), "\x1f")
	}

	if len(ev.ActionData) > 0 {
		keys := make([]string, 0, len(ev.ActionData))
		for k := range ev.ActionData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, k+"="+ev.ActionData[k])
		}
	}

	return strings.Join(parts, "\x1f")
}
