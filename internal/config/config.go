package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitbaso/Arindu/pkg/models"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the archiver configuration file
type Config struct {
	LoopTimeMilliseconds int                         `mapstructure:"loop_time_milliseconds"`
	LiteralValues        bool                        `mapstructure:"literal_values"`
	OrderByDependencies  bool                        `mapstructure:"order_by_dependencies"`
	Tables               []models.TableConfiguration `mapstructure:"tables"`
}

// MinLoopTimeMilliseconds is the shortest interval the scheduler can honor
const MinLoopTimeMilliseconds = 1000

// LoopInterval is the pause between archival cycles
func (c *Config) LoopInterval() time.Duration {
	return time.Duration(c.LoopTimeMilliseconds) * time.Millisecond
}

// FindTable returns the first configured entry for a table name
func (c *Config) FindTable(name string) (models.TableConfiguration, bool) {
	for _, t := range c.Tables {
		if t.TableName == name {
			return t, true
		}
	}
	return models.TableConfiguration{}, false
}

// NewViper prepares a viper instance reading cfgFile, or arindu.yaml from the
// executable directory and then the working directory.
func NewViper(cfgFile string) *viper.Viper {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(ex))
		}
		v.AddConfigPath(".")
		v.SetConfigName("arindu")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("ARINDU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("loop_time_milliseconds", 60000)
	v.SetDefault("literal_values", false)
	v.SetDefault("order_by_dependencies", false)
	return v
}

// Load reads the configuration. Connection strings go through os.ExpandEnv
// so credentials can come from the environment or a .env file.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	for i := range cfg.Tables {
		cfg.Tables[i].SourceConnectionString = os.ExpandEnv(cfg.Tables[i].SourceConnectionString)
		cfg.Tables[i].DestinationConnectionString = os.ExpandEnv(cfg.Tables[i].DestinationConnectionString)
	}
	return &cfg, nil
}

// Validate checks the scheduler settings. Table entries are validated one by
// one at run time so a bad entry never blocks the others.
func (c *Config) Validate() error {
	if c.LoopTimeMilliseconds < MinLoopTimeMilliseconds {
		return errors.Errorf("loop_time_milliseconds must be at least %d, got %d", MinLoopTimeMilliseconds, c.LoopTimeMilliseconds)
	}
	if len(c.Tables) == 0 {
		return errors.New("no tables configured")
	}
	return nil
}

// ValidateTable checks that an archival job can run
func ValidateTable(tc models.TableConfiguration) error {
	var problems []string
	if strings.TrimSpace(tc.SourceConnectionString) == "" {
		problems = append(problems, "source connection string is empty")
	}
	if strings.TrimSpace(tc.DestinationConnectionString) == "" {
		problems = append(problems, "destination connection string is empty")
	}
	if strings.TrimSpace(tc.TableName) == "" {
		problems = append(problems, "table name is empty")
	}
	if strings.TrimSpace(tc.SchemaName) == "" {
		problems = append(problems, "schema name is empty")
	}
	if strings.TrimSpace(tc.DestinationSchemaName) == "" {
		problems = append(problems, "destination schema name is empty")
	}
	if strings.TrimSpace(tc.DateColumnName) == "" {
		problems = append(problems, "date column name is empty")
	}
	if tc.DaysInterval <= 0 {
		problems = append(problems, "days interval must be positive")
	}
	if tc.BatchSize <= 0 {
		problems = append(problems, "batch size must be positive")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
