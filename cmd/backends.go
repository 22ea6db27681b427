package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-ini/ini"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/goosewin/cellfill/internal/backend"
)

var backendsFile string

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List configured LLM backends",
	Args:  cobra.NoArgs,
	RunE:  runBackends,
}

func init() {
	backendsCmd.Flags().StringVarP(&backendsFile, "backends", "c", "", "Backend definitions file")
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	path := stringFlag(backendsFile, cmd.Flags().Changed("backends"), settings.BackendsFile)

	defs := backend.LoadDefinitions(path, quietLogger())
	if len(defs) == 0 {
		pterm.Warning.Printfln("No usable backends in %s", path)
	} else {
		data := pterm.TableData{{"NAME", "PROTOCOL", "MODEL", "ENDPOINT", "SECTION"}}
		for _, def := range defs {
			protocol := string(def.Protocol)
			if def.Protocol == backend.ProtocolUnsupported {
				protocol = fmt.Sprintf("unsupported (%s)", def.RawType)
			}
			data = append(data, []string{def.Name, protocol, def.Model, def.Endpoint, def.Section})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
	}

	skipped := skippedSections(path, defs)
	if len(skipped) > 0 {
		pterm.Println("")
		pterm.Warning.Printfln("Skipped sections (disabled, incomplete or duplicate): %s", strings.Join(skipped, ", "))
	}

	protocols := backend.Protocols()
	names := make([]string, 0, len(protocols))
	for _, protocol := range protocols {
		names = append(names, string(protocol))
	}
	pterm.Println("")
	pterm.Println("Supported TYPE values: " + strings.Join(names, ", ") + " (gemini is an alias of google)")
	pterm.Println("Columns are written in the order listed above.")
	return nil
}

// skippedSections lists backend sections of the file that did not become
// definitions.
func skippedSections(path string, defs []backend.Definition) []string {
	file, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true}, path)
	if err != nil {
		return nil
	}

	loaded := map[string]bool{}
	for _, def := range defs {
		loaded[def.Section] = true
	}

	skipped := []string{}
	for _, section := range file.Sections() {
		name := section.Name()
		if strings.HasPrefix(name, backend.SectionPrefix) && !loaded[name] {
			skipped = append(skipped, name)
		}
	}
	sort.Strings(skipped)
	return skipped
}
