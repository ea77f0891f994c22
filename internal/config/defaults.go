package config

const (
	defaultDataDir               = "~/.local/share/parley/data"
	defaultLogDir                = "~/.local/share/parley/logs"
	defaultRedisAddr             = "127.0.0.1:6379"
	defaultQueueName             = "default"
	defaultQueueWorkers          = 2
	defaultPopTimeoutSeconds     = 2
	defaultSweepIntervalSeconds  = 60
	defaultStuckTimeoutSeconds   = 300
	defaultPendingRequeueSeconds = 120
	defaultLockLeaseSeconds      = 60
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Redis: Redis{
			Addr: defaultRedisAddr,
		},
		Queue: Queue{
			Name:                  defaultQueueName,
			Workers:               defaultQueueWorkers,
			PopTimeoutSeconds:     defaultPopTimeoutSeconds,
			SweepIntervalSeconds:  defaultSweepIntervalSeconds,
			StuckTimeoutSeconds:   defaultStuckTimeoutSeconds,
			PendingRequeueSeconds: defaultPendingRequeueSeconds,
			LockLeaseSeconds:      defaultLockLeaseSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
