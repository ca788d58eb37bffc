// Package id provides unique identifier generation for jobs.
package id

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: job-<unix seconds>-<uuid v4>
// Example: job-1701432000-9b2c6f0e-8f1a-4d1e-9c55-3c1d1a2b3c4d
func Generate() string {
	return fmt.Sprintf("job-%d-%s", time.Now().Unix(), uuid.NewString())
}

// Parse returns the UUID part of an ID produced by Generate.
func Parse(jobID string) (uuid.UUID, error) {
	parts := strings.SplitN(jobID, "-", 3)
	if len(parts) != 3 || parts[0] != "job" {
		return uuid.Nil, fmt.Errorf("parse job id %q: unexpected format", jobID)
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return uuid.Nil, fmt.Errorf("parse job id %q: %w", jobID, err)
	}
	return uuid.Parse(parts[2])
}
