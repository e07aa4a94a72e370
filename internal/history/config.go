package history

import "codeberg.org/mutker/sysmonitor/internal/errors"

const (
	// File system permissions and paths
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/sysmonitor/history.db"

	defaultBatchSize     = 6
	defaultBatchTimeout  = 60
	defaultRetentionDays = 7
	defaultMaxBuffered   = 1000
)

type Config struct {
	DBPath  string
	Enabled bool
	// BatchSize samples are buffered before a write; BatchTimeout seconds
	// bounds how long a partial batch waits.
	BatchSize    int
	BatchTimeout int
	// RetentionDays of samples are kept; 0 keeps everything.
	RetentionDays int
	// MaxBuffered caps samples held while writes fail; the oldest go first.
	MaxBuffered int
}

func DefaultConfig() Config {
	return Config{
		DBPath:        defaultDBPath,
		Enabled:       false, // Disabled by default
		BatchSize:     defaultBatchSize,
		BatchTimeout:  defaultBatchTimeout,
		RetentionDays: defaultRetentionDays,
		MaxBuffered:   defaultMaxBuffered,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if history is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 || c.RetentionDays < 0 || c.MaxBuffered < 0 {
		return errFactory.WithData(ErrInvalidConfig, c)
	}

	return nil
}
