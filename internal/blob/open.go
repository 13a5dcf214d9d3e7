package blob

import (
	"context"
	"fmt"
)

// Config selects and configures a driver.
type Config struct {
	Driver Driver   `yaml:"driver" toml:"driver"`
	FSRoot string   `yaml:"fs_root" toml:"fs_root"`
	S3     S3Config `yaml:"s3" toml:"s3"`
}

// Open builds the store named by cfg.Driver. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
