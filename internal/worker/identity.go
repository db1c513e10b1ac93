package worker

import (
	"os"
	"strings"

	"mail-messenger/internal/config"
)

// Identity builds the worker identifier {hostname}[-{mode}][-{job_id}],
// lowercased. The hostname is truncated at the first dot. Two processes
// with the same identity are duplicates.
func Identity(hostname string, mode config.Mode, jobID string) string {
	id := strings.SplitN(hostname, ".", 2)[0]
	if mode != config.ModeAll {
		id += "-" + string(mode)
	}
	if jobID != "" {
		id += "-" + jobID
	}
	return strings.ToLower(id)
}

// LocalIdentity is Identity for the current host.
func LocalIdentity(mode config.Mode, jobID string) (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	return Identity(hostname, mode, jobID), nil
}
