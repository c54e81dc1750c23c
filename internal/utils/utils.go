package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bitbaso/Arindu/internal/archiver"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	logger := logrus.New()

	// Get log level from environment variable or parameter
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv("ARINDU_LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stdout)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads environment variables from .env file.
// It returns false when no file was loaded.
func LoadEnvironmentVariables(envFile string, logger *logrus.Logger) bool {
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		} else {
			logger.Debugf("No %s file found, using existing environment variables", envFile)
		}
		return false
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warningf("Error loading %s file: %v", envFile, err)
		return false
	}
	logger.Infof("Loaded environment variables from %s", envFile)

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		for _, env := range os.Environ() {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) != 2 || !strings.HasPrefix(parts[0], "ARINDU_") {
				continue
			}
			logger.Debugf("%s=%s", parts[0], MaskSecret(parts[0], parts[1]))
		}
	}
	return true
}

// MaskSecret hides values of variables that look like credentials
func MaskSecret(name, value string) string {
	upper := strings.ToUpper(name)
	for _, marker := range []string{"PASSWORD", "SECRET", "TOKEN", "DSN", "CONNECTION"} {
		if strings.Contains(upper, marker) {
			return "********"
		}
	}
	return value
}

// PrintSummary prints a summary of one archive cycle
func PrintSummary(w io.Writer, results []archiver.TableResult) {
	var copied, deleted int64
	var failed []archiver.TableResult
	for _, r := range results {
		copied += r.Copied
		deleted += r.Deleted
		if !r.Succeeded() {
			failed = append(failed, r)
		}
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 50))
	fmt.Fprintln(w, "ARCHIVE SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Total tables processed: %d\n", len(results))
	fmt.Fprintf(w, "Successfully archived tables: %d\n", len(results)-len(failed))
	fmt.Fprintf(w, "Failed tables: %d\n", len(failed))
	fmt.Fprintf(w, "Total rows copied: %d\n", copied)
	fmt.Fprintf(w, "Total rows deleted: %d\n", deleted)

	fmt.Fprintln(w, "\nTables:")
	for _, r := range results {
		status := r.State.String()
		if r.Cancelled {
			status = "cancelled"
		}
		fmt.Fprintf(w, "  %-30s %-12s batches=%d copied=%d deleted=%d\n",
			r.Schema+"."+r.Table, status, r.Batches, r.Copied, r.Deleted)
	}

	if len(failed) > 0 {
		fmt.Fprintln(w, "\nFailed tables:")
		for _, r := range failed {
			fmt.Fprintf(w, "  - %s.%s (%s): %v\n", r.Schema, r.Table, archiver.KindOf(r.Err), r.Err)
		}
	}

	fmt.Fprintln(w, strings.Repeat("=", 50))
}

// PrintInspection prints the primary key and backlog of every configured table
func PrintInspection(w io.Writer, inspections []archiver.Inspection) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(w, "ARCHIVE INSPECTION REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	for i, in := range inspections {
		fmt.Fprintf(w, "\n%3d. %s.%s\n", i+1, in.Schema, in.Table)
		if len(in.PrimaryKey) > 0 {
			fmt.Fprintf(w, "     Primary key: %s\n", strings.Join(in.PrimaryKey, ", "))
		}
		if in.Err != nil && archiver.KindOf(in.Err) != archiver.NoPrimaryKey {
			fmt.Fprintf(w, "     Error: %v\n", in.Err)
			continue
		}
		fmt.Fprintf(w, "     Eligible rows: %d\n", in.Eligible)
		if in.Err != nil {
			fmt.Fprintf(w, "     Skipped: %v\n", in.Err)
		}
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
}
