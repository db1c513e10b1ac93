package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Twilio's magic number accepts any message and reports success without
// delivering anything. Used when --phone=twilio.
const TwilioMagicTestNumber = "+15005550006"

const (
	// MaxAttempts is the per-row attempt budget. A row that has been
	// claimed MaxAttempts times and still failed moves to FailedMail.
	MaxAttempts = 3

	// MaxAge is the orphan reclamation threshold: a row claimed by a
	// peer longer ago than this may be stolen.
	MaxAge = 15 * time.Minute

	// QueryTimeout bounds every individual database call.
	QueryTimeout = 10 * time.Second
)

// FetchLimit is the claim batch size per worker.
func FetchLimit() int {
	return 5 * runtime.NumCPU()
}

// SendConcurrency bounds overlapping provider calls within one batch.
func SendConcurrency() int {
	n := 5 * runtime.NumCPU()
	if n > 32 {
		n = 32
	}
	return n
}

// Env holds everything sourced from environment variables.
type Env struct {
	TwilioPhoneNumber  string `envconfig:"TWILIO_PHONE_NUMBER" required:"true"`
	TwilioAccountSID   string `envconfig:"TWILIO_ACCOUNT_SID" required:"true"`
	TwilioAPIKeySID    string `envconfig:"TWILIO_CLIENT_API_KEY_SID" required:"true"`
	TwilioAPIKeySecret string `envconfig:"TWILIO_CLIENT_API_KEY_SECRET" required:"true"`
	SendGridAPIKey     string `envconfig:"SENDGRID_CLIENT_API_KEY" required:"true"`
	MailFromAddress    string `envconfig:"MAIL_FROM_ADDRESS"`
	PGPassword         string `envconfig:"PGPASSWORD" required:"true"`
	Home               string `envconfig:"HOME" required:"true"`
	MetricsAddr        string `envconfig:"METRICS_ADDR"`
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`
}

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	return &env, nil
}

// DBEnv is the subset of the environment needed to reach the database,
// for tooling that has no business with provider credentials.
type DBEnv struct {
	PGPassword string `envconfig:"PGPASSWORD" required:"true"`
	Home       string `envconfig:"HOME" required:"true"`
}

func LoadDBEnv() (*DBEnv, error) {
	var env DBEnv
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	return &env, nil
}

// DBParams mirrors $HOME/scripts/db_params.json. The password never lives
// in the file; it is injected from PGPASSWORD.
type DBParams struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	DBName   string `json:"dbname"`
	Password string `json:"-"`
}

func LoadDBParams(home, password string) (*DBParams, error) {
	path := filepath.Join(home, "scripts", "db_params.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var params DBParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	params.Password = password
	return &params, nil
}

// DSN renders the lib/pq keyword/value connection string.
func (p *DBParams) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s password=%s",
		p.Host, p.Port, p.User, p.DBName, p.Password)
}

// Mode restricts which rows a worker claims.
type Mode string

const (
	ModeAll          Mode = ""             // no attachment filter
	ModeReport       Mode = "report"       // rows with an attachment
	ModeNotification Mode = "notification" // rows without
)

// ParseMode normalizes an operator-supplied mode value. A trailing "s"
// is tolerated ("reports" means "report").
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	switch m {
	case ModeAll, ModeReport, ModeNotification:
		return m, nil
	}
	return ModeAll, fmt.Errorf("invalid mode value: %q", s)
}

// Options is the CLI surface of the worker.
type Options struct {
	Mode          Mode
	Loop          bool
	Debug         bool
	Testing       bool
	NoNotify      bool
	EmailOverride string
	PhoneOverride string
	JobID         string
	Interval      float64
	LogDir        string
}

// Normalize validates and fills in derived values after flag parsing.
// rawMode is the unparsed --mode value.
func (o *Options) Normalize(rawMode string) error {
	mode, err := ParseMode(rawMode)
	if err != nil {
		return err
	}
	o.Mode = mode

	if strings.EqualFold(strings.TrimSpace(o.PhoneOverride), "twilio") {
		o.PhoneOverride = TwilioMagicTestNumber
	} else {
		o.PhoneOverride = strings.TrimSpace(o.PhoneOverride)
	}
	o.EmailOverride = strings.TrimSpace(o.EmailOverride)
	o.JobID = strings.TrimSpace(o.JobID)

	if o.Interval <= 0 {
		return fmt.Errorf("invalid interval value: %v", o.Interval)
	}

	if o.LogDir == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to locate executable: %w", err)
		}
		o.LogDir = filepath.Join(filepath.Dir(exe), "logs")
	} else {
		abs, err := filepath.Abs(o.LogDir)
		if err != nil {
			return fmt.Errorf("invalid log directory: %w", err)
		}
		o.LogDir = abs
	}
	return nil
}
