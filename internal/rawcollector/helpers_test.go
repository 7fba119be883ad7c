package rawcollector_test

import (
	"time"

	"github.com/hoppy/ingest/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{JobQueueConcurrency: 1, JobQueueMaxAttempts: 1}
}

func timeoutCh() <-chan time.Time {
	return time.After(2 * time.Second)
}
