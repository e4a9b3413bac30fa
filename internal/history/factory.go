package history

import "fmt"

// Driver identifiers supported by the prediction log.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// New creates a prediction log based on the provided configuration.
func New(cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(cfg), nil
	case DriverSQLite:
		if cfg.SQLite == nil {
			return nil, fmt.Errorf("sqlite configuration missing")
		}
		db, err := OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return NewSQLite(db)
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported history driver: %s", driver)
	}
}
