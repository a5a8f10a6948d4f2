package pathutil

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("pathutil")

// ConfigLocationType describes a config path's location type.
type ConfigLocationType string

const (
	// WorkingDirLoc represents the default working directory location for a configuration file.
	WorkingDirLoc = ConfigLocationType("WD")

	// HomeLoc represents the default home folder location for a configuration file.
	HomeLoc = ConfigLocationType("HOME")

	// LocalLoc represents the default /usr/local location for a configuration file.
	LocalLoc = ConfigLocationType("LOCAL")
)

// AllConfigLocationTypes returns all valid config location types in lookup order.
func AllConfigLocationTypes() []ConfigLocationType {
	return []ConfigLocationType{
		WorkingDirLoc,
		HomeLoc,
		LocalLoc,
	}
}

// ConfigPaths contains a map of configuration paths, based on ConfigLocationTypes.
type ConfigPaths map[ConfigLocationType]string

// String implements fmt.Stringer for ConfigPaths.
func (dp ConfigPaths) String() string {
	raw, err := json.MarshalIndent(dp, "", "\t")
	if err != nil {
		return err.Error()
	}
	return string(raw)
}

// ClientDefaults returns the default config paths for rft-client.
func ClientDefaults() ConfigPaths {
	paths := make(ConfigPaths)
	if wd, err := os.Getwd(); err == nil {
		paths[WorkingDirLoc] = filepath.Join(wd, "rft-config.json")
	}
	if home, err := homedir.Dir(); err == nil {
		paths[HomeLoc] = filepath.Join(home, ".skycoin", "rft", "rft-config.json")
	} else {
		log.WithError(err).Debug("Home directory is unavailable.")
	}
	paths[LocalLoc] = "/usr/local/skycoin/rft/rft-config.json"
	return paths
}

// FindConfigPath is used to find the config file path in the following order:
// - From the explicit path (usually a CLI flag).
// - From ENV.
// - From a list of default paths; the first one that exists is used.
// Unlike a visor, the client runs fine without a config file, so an empty
// string is returned when none is found.
func FindConfigPath(explicit, env string, defaults ConfigPaths) string {
	if explicit != "" {
		log.Debugf("using explicit config path: %s", explicit)
		return explicit
	}
	if env != "" {
		if path, ok := os.LookupEnv(env); ok && path != "" {
			log.Debugf("using $%s as config path: %s", env, path)
			return path
		}
	}
	log.Debugf("config path is not explicitly specified, trying default paths...")
	for i, cpType := range AllConfigLocationTypes() {
		path, ok := defaults[cpType]
		if !ok {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			log.Debugf("- [%d/%d] '%s' cannot be accessed: %s", i+1, len(defaults), path, err.Error())
			continue
		}
		log.Debugf("- [%d/%d] '%s' is found", i+1, len(defaults), path)
		return path
	}
	return ""
}
