package scheduler

import (
	"encoding/json"
	"strconv"

	"github.com/fspulse/fspulse/internal/fserr"
	"github.com/fspulse/fspulse/internal/model"
)

// decodeSettings unmarshals a task's persisted settings envelope,
// tolerating an empty payload as the zero value.
func decodeSettings(raw []byte, out *model.TaskSettings) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fserr.UserInput("malformed task settings: %v", err)
	}
	return nil
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
