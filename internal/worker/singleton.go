package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"mail-messenger/internal/config"
)

// CheckSingleton scans the host process table for another instance of this
// program whose derived identifier equals ours, and reports whether it is
// safe to start. Best-effort operator protection only; the claim protocol
// is the correctness boundary.
func CheckSingleton(logger *zap.Logger, hostname, identity string) (bool, error) {
	self := os.Getpid()
	program := filepath.Base(os.Args[0])

	procs, err := process.Processes()
	if err != nil {
		return false, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		cmdline, err := p.CmdlineSlice()
		if err != nil || len(cmdline) == 0 {
			continue
		}
		for idx, arg := range cmdline {
			if filepath.Base(arg) != program {
				continue
			}
			rawMode, jobID := parsePeerArgs(cmdline[idx+1:])
			peerMode, err := config.ParseMode(rawMode)
			if err != nil {
				break // not a worker invocation we recognize
			}
			if Identity(hostname, peerMode, jobID) == identity {
				logger.Debug("duplicate worker found",
					zap.String("identity", identity), zap.Int32("pid", p.Pid))
				return false, nil
			}
			break
		}
	}
	return true, nil
}

// parsePeerArgs recovers the --mode and --job-id values from a peer's
// argv tail. Both --key=value and "-k value" forms are understood.
func parsePeerArgs(args []string) (mode, jobID string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "--mode="):
			mode = strings.TrimPrefix(arg, "--mode=")
		case arg == "-m" || arg == "--mode":
			if i+1 < len(args) {
				mode = args[i+1]
				i++
			}
		case strings.HasPrefix(arg, "--job-id="):
			jobID = strings.TrimPrefix(arg, "--job-id=")
		case arg == "-j" || arg == "--job-id":
			if i+1 < len(args) {
				jobID = args[i+1]
				i++
			}
		}
	}
	return mode, jobID
}
