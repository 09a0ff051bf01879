package config

const (
	// DefaultDatabasePath is the default path for the application database
	DefaultDatabasePath = "./marketsync.db"

	// DefaultRedisChannel is the pub/sub channel carrying tenant wake-ups
	DefaultRedisChannel = "marketsync:tenant-wake"
)
