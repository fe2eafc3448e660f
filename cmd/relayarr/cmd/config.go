package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/relayarr/internal/config"
	"github.com/jmylchreest/relayarr/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing relayarr configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  relayarr config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, .relayarr.yaml, /etc/relayarr/config.yaml)
  - Environment variables (RELAYARR_SERVER_PORT, RELAYARR_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the RELAYARR_ prefix and underscores for nesting.
Example: server.port -> RELAYARR_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		// Get yaml tag or use lowercase field name
		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = fieldType.Name
		}

		// Handle different types
		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case config.Duration:
			result[key] = v.String()
		case config.ByteSize:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg := config.Default()

	// Convert to map with human-readable values
	cfgMap := toMap(cfg)

	// Marshal to YAML
	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Print header with documentation
	fmt.Println("# relayarr Configuration File")
	fmt.Println("# ============================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults, except auth credentials,")
	fmt.Println("# which have none and are required to serve.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 7d")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   RELAYARR_SERVER_HOST, RELAYARR_SERVER_PORT")
	fmt.Println("#   RELAYARR_AUTH_USERNAME, RELAYARR_AUTH_PASSWORD")
	fmt.Println("#   RELAYARR_STORAGE_BASE_DIR, RELAYARR_STORAGE_MAX_SEGMENT_SIZE")
	fmt.Println("#   RELAYARR_DATABASE_DRIVER, RELAYARR_DATABASE_DSN")
	fmt.Println("#   RELAYARR_LOGGING_LEVEL, RELAYARR_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
