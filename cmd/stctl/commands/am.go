package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/statetree/am"
	"github.com/teranos/statetree/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and manage configuration",
	Long: `am — Show and manage configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (STATETREE_* prefix)
2. Project config (am.toml, searched upward from the working directory)
3. User config (~/.statetree/am.toml)
4. System config (/etc/statetree/am.toml)
5. Default values

Examples:
  stctl am show                    # Show current configuration
  stctl am show --format yaml      # Show configuration as YAML
  stctl am get sync.codec          # Get a specific value
  stctl am set sync.codec proto    # Write a value to the user config
  stctl am where                   # Show where each value comes from
  stctl am validate                # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, sync.interval_seconds)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a configuration value",
	Long:  "Write a value to the user config file (or --file). The previous file is kept as .back1.",
	Args:  cobra.ExactArgs(2),
	RunE:  runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Args:  cobra.NoArgs,
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where each configuration value comes from",
	Args:  cobra.NoArgs,
	RunE:  runAmWhere,
}

var (
	configFormat  string
	amSetFileFlag string
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amSetCmd.Flags().StringVar(&amSetFileFlag, "file", "", "Config file to modify (default: ~/.statetree/am.toml)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	out := cmd.OutOrStdout()

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Fprintf(out, "# statetree configuration\n%s", string(data))
	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Fprintf(out, "# statetree configuration\n%s", string(data))
	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if !am.GetViper().IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}
	fmt.Fprintln(cmd.OutOrStdout(), am.Get(key))
	return nil
}

// parseScalar reads value as a TOML scalar so numbers and booleans keep
// their type; anything else is a string.
func parseScalar(value string) interface{} {
	var doc map[string]interface{}
	if err := toml.Unmarshal([]byte("v = "+value), &doc); err == nil {
		return doc["v"]
	}
	return value
}

func runAmSet(cmd *cobra.Command, args []string) error {
	path := amSetFileFlag
	if path == "" {
		dir := am.UserConfigDir()
		if dir == "" {
			return errors.New("cannot determine home directory, pass --file")
		}
		path = filepath.Join(dir, am.ProjectFile)
	}
	if err := am.SetValue(path, args[0], parseScalar(args[1])); err != nil {
		return err
	}

	cfg, err := am.LoadFromFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		pterm.Warning.WithWriter(cmd.OutOrStdout()).Printfln("%s now fails validation: %v", path, err)
	}
	am.Reset()
	pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Set %s in %s", args[0], path)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	intro := am.GetConfigIntrospection()
	out := cmd.OutOrStdout()

	if intro.ConfigFile != "" {
		fmt.Fprintf(out, "Active config file: %s\n\n", intro.ConfigFile)
	} else {
		fmt.Fprintf(out, "No config file found, using defaults\n\n")
	}

	rows := pterm.TableData{{"Key", "Value", "Source", "From"}}
	for _, s := range intro.Settings {
		rows = append(rows, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(rows).Render()
}
