package batch

import (
	"time"

	"github.com/djherbis/times"
)

type fileTimestamps struct {
	AccessTime   string
	CreationTime string
}

func fileTimes(path string) fileTimestamps {
	ts, err := times.Stat(path)
	if err != nil {
		return fileTimestamps{}
	}
	result := fileTimestamps{
		AccessTime: ts.AccessTime().Format(time.RFC3339),
	}
	if ts.HasBirthTime() {
		result.CreationTime = ts.BirthTime().Format(time.RFC3339)
	}
	return result
}
