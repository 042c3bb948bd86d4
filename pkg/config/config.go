// Package config loads the tracer's on-disk defaults: the interesting
// image list, the emulated CPU profile, the fixed RDRAND value, and
// the stack-tracking switch, and the output directory. cmd/tracer loads
// this file at startup (creating a commented default when it is
// missing) but does not apply its values: the planner configuration
// comes from the CLI flags and their defaults only. Layout and loading
// follow the teacher's pkg/config.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".pintrace"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// InterestingImages lists case-insensitive basename/substring
	// patterns (§4.3) identifying images whose blocks are traced in
	// full; the main executable is always interesting regardless of
	// this list.
	InterestingImages []string `yaml:"interesting-images"`

	// CPUProfile selects the emulated CPUID profile by name
	// ("pentium3", "merom", "westmere", "ivybridge"); empty disables
	// CPUID rewriting.
	CPUProfile string `yaml:"cpu-profile"`

	// FixedRandom, if non-empty, is the hex-encoded 64-bit value RDRAND
	// substitutes in every traced thread (§4.4).
	FixedRandom string `yaml:"fixed-random"`

	// StackTracking enables StackPointerInfo/StackPointerModification
	// entries (§3/§4.2).
	StackTracking bool `yaml:"stack-tracking"`

	// OutputDirectory is the default trace output directory, overridden
	// by -o/--out.
	OutputDirectory string `yaml:"output-directory"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the tracer.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Case-insensitive basename/substring patterns naming images whose
# blocks are traced in full. The main executable is always interesting
# regardless of this list.
interesting-images:
  # - libssl.so
  # - libcrypto

# Emulated CPUID profile: pentium3, merom, westmere, or ivybridge.
# cpu-profile: merom

# Fixed 64-bit value (hex) RDRAND substitutes in every traced thread,
# for reproducible traces.
# fixed-random: badbadbadbadbad

# Record StackPointerInfo/StackPointerModification entries.
# stack-tracking: true

# Default trace output directory.
# output-directory: ./traces
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
