package util

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/cedar/lib/engine"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("cedar")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// SetupEngineFlags adds the engine configuration flags to a command
func SetupEngineFlags(cmd *cobra.Command) {
	key := "dir"
	cmd.PersistentFlags().String(key, "data", WrapString("Directory holding the commit log"))

	key = "memory-limit"
	cmd.PersistentFlags().Int64(key, 64, WrapString("Memory budget shared by all memtables (in MB)"))

	key = "clean-threshold"
	cmd.PersistentFlags().Float64(key, 0.75, WrapString("Fraction of the memory budget above which memtables are flushed"))

	key = "sync-interval"
	cmd.PersistentFlags().Int(key, 200, WrapString("Commit log sync interval (in milliseconds)"))

	key = "wait-on-disk-sync"
	cmd.PersistentFlags().Bool(key, false, WrapString("Whether every write waits for the disk sync covering its own record (strict durability)"))
}

// GetEngineOptions reads the engine configuration from viper
func GetEngineOptions() engine.Options {
	opts := engine.DefaultOptions(viper.GetString("dir"))
	opts.OnHeapLimit = viper.GetInt64("memory-limit") * 1024 * 1024
	opts.CleanThresholdRatio = viper.GetFloat64("clean-threshold")
	opts.SyncPollInterval = time.Duration(viper.GetInt("sync-interval")) * time.Millisecond
	opts.WaitOnDiskSync = viper.GetBool("wait-on-disk-sync")
	return opts
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
