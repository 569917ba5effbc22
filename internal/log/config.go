package log

const (
	DefaultPattern    = "%time [%level] %field %msg%n"
	DefaultTimeLayout = "2006-01-02 15:04:05.000"
)

type LoggerConfig struct {
	Level   string              `mapstructure:"level"`
	Pattern string              `mapstructure:"pattern"`
	Time    string              `mapstructure:"time"`
	File    FileAppenderOptions `mapstructure:"file"`
}

type FileAppenderOptions struct {
	Enabled    bool   `mapstructure:"enabled"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxAge     int    `mapstructure:"max_age"`  // days
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}
