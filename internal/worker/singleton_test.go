package worker

import "testing"

func TestParsePeerArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantMode string
		wantJob  string
	}{
		{"empty", nil, "", ""},
		{"long equals", []string{"--mode=report", "--job-id=j1"}, "report", "j1"},
		{"long separate", []string{"--mode", "notification", "--job-id", "j2"}, "notification", "j2"},
		{"short", []string{"-m", "report", "-j", "j3"}, "report", "j3"},
		{"mixed with noise", []string{"--loop", "-d", "--mode=reports", "-i", "2", "-j", "cron"}, "reports", "cron"},
		{"flag without value", []string{"-m"}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, jobID := parsePeerArgs(tt.args)
			if mode != tt.wantMode || jobID != tt.wantJob {
				t.Errorf("parsePeerArgs(%v) = (%q, %q), want (%q, %q)",
					tt.args, mode, jobID, tt.wantMode, tt.wantJob)
			}
		})
	}
}
