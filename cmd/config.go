package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/goosewin/cellfill/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change cellfill settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigList,
}

func init() {
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print the effective value of a setting",
			Args:  cobra.ExactArgs(1),
			RunE:  runConfigGet,
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Write a setting to the global config file",
			Args:  cobra.ExactArgs(2),
			RunE:  runConfigSet,
		},
		&cobra.Command{
			Use:   "list",
			Short: "List effective settings, marking values that differ from the defaults",
			Args:  cobra.NoArgs,
			RunE:  runConfigList,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show which config files are in effect",
			Args:  cobra.NoArgs,
			RunE:  runConfigPath,
		},
	)
	rootCmd.AddCommand(configCmd)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}

	value, ok := config.GetConfig(strings.TrimSpace(args[0]))
	if !ok {
		return fmt.Errorf("config key not found: %s", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
	if _, known := config.Defaults[key]; !known {
		return fmt.Errorf("unknown config key %q (see: cellfill config list)", key)
	}
	if value == "" {
		return fmt.Errorf("empty value for %s", key)
	}

	if err := config.SetConfig(key, value); err != nil {
		return err
	}
	pterm.Success.Printfln("%s=%s written to the global config", key, value)
	return nil
}

func runConfigList(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}

	items, err := config.ListConfig()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	data := pterm.TableData{{"KEY", "VALUE", ""}}
	for _, key := range keys {
		marker := ""
		if fallback, ok := config.Defaults[key]; !ok || fmt.Sprint(fallback) != items[key] {
			marker = "*"
		}
		data = append(data, []string{key, items[key], marker})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve current directory: %w", err)
	}
	paths, err := config.LoadConfig(cwd)
	if err != nil {
		return err
	}

	data := pterm.TableData{{"LAYER", "FILE", ""}}
	for _, layer := range []struct{ name, path string }{
		{"default", paths.Default},
		{"global", paths.Global},
		{"project", paths.Project},
	} {
		found := "missing"
		if layer.path == "" {
			found = "-"
		} else if _, err := os.Stat(layer.path); err == nil {
			found = "loaded"
		}
		data = append(data, []string{layer.name, layer.path, found})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
