// Package pathutil locates and writes node configuration files.
package pathutil

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("pathutil")

// ErrConfigNotFound occurs when no config file exists in any of the searched paths.
var ErrConfigNotFound = errors.New("config not found")

// ConfigLocationType describes a config path's location type.
type ConfigLocationType string

const (
	// WorkingDirLoc is the working directory location of a config file.
	WorkingDirLoc = ConfigLocationType("WD")

	// HomeLoc is the home directory location of a config file.
	HomeLoc = ConfigLocationType("HOME")

	// LocalLoc is the /usr/local location of a config file.
	LocalLoc = ConfigLocationType("LOCAL")
)

// String implements fmt.Stringer for ConfigLocationType.
func (t ConfigLocationType) String() string {
	return string(t)
}

// Set implements pflag.Value for ConfigLocationType.
func (t *ConfigLocationType) Set(s string) error {
	*t = ConfigLocationType(s)
	return nil
}

// Type implements pflag.Value for ConfigLocationType.
func (t ConfigLocationType) Type() string {
	return "pathutil.ConfigLocationType"
}

// ConfigPaths maps location types to config file paths.
type ConfigPaths map[ConfigLocationType]string

// String implements fmt.Stringer for ConfigPaths.
func (dp ConfigPaths) String() string {
	raw, err := json.MarshalIndent(dp, "", "\t")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Get returns the path stored under cpType.
func (dp ConfigPaths) Get(cpType ConfigLocationType) (string, error) {
	if path, ok := dp[cpType]; ok {
		return path, nil
	}
	return "", errors.Errorf("invalid config location '%s', expected one of %s, %s, %s",
		cpType, WorkingDirLoc, HomeLoc, LocalLoc)
}

// NodeDefaults returns the default config paths of rudp-node.
func NodeDefaults() ConfigPaths {
	paths := make(ConfigPaths)
	if wd, err := os.Getwd(); err == nil {
		paths[WorkingDirLoc] = filepath.Join(wd, "rudp-config.json")
	}
	if home, err := homedir.Dir(); err == nil {
		paths[HomeLoc] = filepath.Join(home, ".rudp", "rudp-config.json")
	}
	paths[LocalLoc] = "/usr/local/rudp/rudp-config.json"
	return paths
}

// FindConfigPath finds a config file path in the following order:
// - From CLI argument.
// - From ENV.
// - From a list of default paths.
// If argsIndex < 0, searching from CLI arguments does not take place.
func FindConfigPath(args []string, argsIndex int, env string, defaults ConfigPaths) (string, error) {
	if argsIndex >= 0 && len(args) > argsIndex {
		path := args[argsIndex]
		log.Infof("using args[%d] as config path: %s", argsIndex, path)
		return homedir.Expand(path)
	}
	if env != "" {
		if path, ok := os.LookupEnv(env); ok {
			log.Infof("using $%s as config path: %s", env, path)
			return homedir.Expand(path)
		}
	}
	log.Debug("config path is not explicitly specified, trying default paths...")
	for i, cpType := range []ConfigLocationType{WorkingDirLoc, HomeLoc, LocalLoc} {
		path, ok := defaults[cpType]
		if !ok {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			log.Debugf("- [%d/%d] '%s' cannot be accessed: %s", i+1, len(defaults), path, err)
			continue
		}
		log.Infof("using fallback config path: %s", path)
		return path, nil
	}
	return "", errors.Wrapf(ErrConfigNotFound, "searched %s", defaults)
}

// WriteJSONConfig writes conf to output as indented JSON. An existing file
// is only overwritten when replace is set.
func WriteJSONConfig(conf interface{}, output string, replace bool) error {
	output, err := homedir.Expand(output)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(conf, "", "\t")
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	if _, err := os.Stat(output); !replace && err == nil {
		return errors.Errorf("file %s already exists, stopping as 'replace,r' flag is not set", output)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0750); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	if err := ioutil.WriteFile(output, raw, 0600); err != nil {
		return errors.Wrap(err, "failed to write file")
	}
	log.Infof("Wrote %d bytes to %s", len(raw), output)
	return nil
}
