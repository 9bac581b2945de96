// Package util provides small helpers shared across RemindPipe packages.
package util

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// JobIDPrefix marks identifiers minted for delay-queue jobs.
const JobIDPrefix = "job_"

// GenerateID returns prefix followed by 32 lowercase hex characters taken from
// a random (version 4) UUID.
func GenerateID(prefix string) string {
	u := uuid.New()
	return prefix + hex.EncodeToString(u[:])
}

// GenerateJobID generates a unique delay-queue job ID with the "job_" prefix.
// The job ID doubles as the reminder record ID, so it must be unique across
// processes.
func GenerateJobID() string {
	return GenerateID(JobIDPrefix)
}
