package backend

import (
	"errors"
	"os"
	"strings"

	"github.com/go-ini/ini"
	"github.com/sirupsen/logrus"

	"github.com/goosewin/cellfill/internal/workbook"
)

// SectionPrefix marks backend sections in the definitions file.
const SectionPrefix = "API_"

const fixedColumn = "fixed column"

// ErrNoBackends is returned by callers that cannot proceed without backends.
var ErrNoBackends = errors.New("no valid backends configured")

// LoadDefinitions reads enabled, complete backend definitions from an INI file.
// It never fails: a missing or unreadable file, or one without usable sections,
// yields an empty slice and a logged error.
func LoadDefinitions(path string, logger logrus.FieldLogger) []Definition {
	if logger == nil {
		logger = ClientOptions{}.withDefaults().Logger
	}
	log := logger.WithField("file", path)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			log.Error("backend configuration file not found")
		} else {
			log.WithError(err).Error("cannot access backend configuration file")
		}
		return []Definition{}
	}

	file, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true}, path)
	if err != nil {
		log.WithError(err).Error("read backend configuration")
		return []Definition{}
	}

	defs := parseSections(file, log)
	if len(defs) == 0 {
		log.Errorf("no valid [%s*] sections found", SectionPrefix)
	}
	return defs
}

func parseSections(file *ini.File, log logrus.FieldLogger) []Definition {
	defs := []Definition{}
	// A backend name is its column header, so the fixed column labels are taken.
	seen := map[string]string{}
	for _, header := range workbook.FixedHeaders() {
		seen[header] = fixedColumn
	}

	for _, section := range file.Sections() {
		name := section.Name()
		if !strings.HasPrefix(name, SectionPrefix) {
			continue
		}

		def, ok := parseSection(section, log)
		if !ok {
			continue
		}

		if previous, exists := seen[def.Name]; exists {
			msg := "duplicate backend name, skipping section"
			if previous == fixedColumn {
				msg = "backend name is a reserved column header, skipping section"
			}
			log.WithFields(logrus.Fields{"section": name, "name": def.Name, "first": previous}).Warn(msg)
			continue
		}
		seen[def.Name] = name

		log.WithFields(logrus.Fields{"name": def.Name, "type": def.RawType, "model": def.Model}).
			Info("loaded backend")
		defs = append(defs, def)
	}

	return defs
}

func parseSection(section *ini.Section, log logrus.FieldLogger) (Definition, bool) {
	name := section.Name()
	def := Definition{
		Section:    name,
		Name:       strings.TrimPrefix(name, SectionPrefix),
		Credential: strings.TrimSpace(section.Key("key").String()),
		Endpoint:   strings.TrimRight(strings.TrimSpace(section.Key("endpoint").String()), "/"),
		Model:      strings.TrimSpace(section.Key("model").String()),
		RawType:    "openai",
		Enabled:    true,
	}

	if section.HasKey("name") {
		if value := strings.TrimSpace(section.Key("name").String()); value != "" {
			def.Name = value
		}
	}
	if section.HasKey("type") {
		if value := strings.ToLower(strings.TrimSpace(section.Key("type").String())); value != "" {
			def.RawType = value
		}
	}
	def.Protocol = ParseProtocol(def.RawType)

	if section.HasKey("enabled") {
		enabled, err := section.Key("enabled").Bool()
		if err != nil {
			log.WithField("section", name).WithError(err).Warn("invalid ENABLED value, treating as disabled")
			enabled = false
		}
		def.Enabled = enabled
	}

	if def.Credential == "" || def.Endpoint == "" || def.Model == "" || !def.Enabled || def.Name == "" {
		log.WithField("section", name).Warn("incomplete or disabled backend configuration, skipping")
		return Definition{}, false
	}

	if def.Protocol == ProtocolUnsupported {
		log.WithFields(logrus.Fields{"section": name, "type": def.RawType}).
			Warn("unsupported backend type, calls will be recorded as failures")
	}

	return def, true
}
