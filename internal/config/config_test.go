package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"", ModeAll, false},
		{"report", ModeReport, false},
		{"reports", ModeReport, false},
		{"Notification", ModeNotification, false},
		{"NOTIFICATIONS", ModeNotification, false},
		{" report ", ModeReport, false},
		{"bogus", ModeAll, true},
		{"ss", ModeAll, true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLoadDBParams(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, "scripts"), 0o755); err != nil {
		t.Fatal(err)
	}
	content := `{"host":"db.example.com","port":5432,"user":"mailer","dbname":"maildb"}`
	if err := os.WriteFile(filepath.Join(home, "scripts", "db_params.json"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	params, err := LoadDBParams(home, "s3cret")
	if err != nil {
		t.Fatalf("LoadDBParams: %v", err)
	}
	if params.Host != "db.example.com" || params.Port != 5432 || params.User != "mailer" || params.DBName != "maildb" {
		t.Errorf("unexpected params: %+v", params)
	}
	if params.Password != "s3cret" {
		t.Error("password must come from the environment, not the file")
	}

	want := "host=db.example.com port=5432 user=mailer dbname=maildb password=s3cret"
	if got := params.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestLoadDBParamsMissingFile(t *testing.T) {
	if _, err := LoadDBParams(t.TempDir(), "pw"); err == nil {
		t.Error("expected error for missing db_params.json")
	}
}

func TestOptionsNormalize(t *testing.T) {
	opts := Options{
		PhoneOverride: "Twilio",
		EmailOverride: " qa@example.com ",
		Interval:      1.0,
		LogDir:        ".",
	}
	if err := opts.Normalize("reports"); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if opts.Mode != ModeReport {
		t.Errorf("mode = %q, want report", opts.Mode)
	}
	if opts.PhoneOverride != TwilioMagicTestNumber {
		t.Errorf("phone override = %q, want the magic test number", opts.PhoneOverride)
	}
	if opts.EmailOverride != "qa@example.com" {
		t.Errorf("email override = %q", opts.EmailOverride)
	}
	if !filepath.IsAbs(opts.LogDir) {
		t.Errorf("log dir should be absolute, got %q", opts.LogDir)
	}
}

func TestOptionsNormalizeRejectsBadInput(t *testing.T) {
	opts := Options{Interval: 1.0}
	if err := opts.Normalize("invalid"); err == nil {
		t.Error("expected error for invalid mode")
	}

	opts = Options{Interval: 0}
	if err := opts.Normalize(""); err == nil {
		t.Error("expected error for non-positive interval")
	}
}
