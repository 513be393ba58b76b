// Package application contains the command-line and HTTP listener plumbing of the flagpole executable.
package application

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// DefaultConfigPath is read when neither --config nor --from-env is given.
const DefaultConfigPath = "/etc/flagpole.conf"

// Options are the command-line settings of the server.
type Options struct {
	ConfigFile       string
	AllowMissingFile bool
	UseEnvironment   bool
}

// DescribeConfigSource names where the configuration is read from, for the startup log.
func (o Options) DescribeConfigSource() string {
	switch {
	case o.ConfigFile != "" && o.UseEnvironment:
		return "configuration file " + o.ConfigFile + " plus environment variables"
	case o.ConfigFile != "":
		return "configuration file " + o.ConfigFile
	case o.UseEnvironment:
		return "configuration from environment variables"
	default:
		return "default configuration"
	}
}

// ReadOptions parses the command-line arguments that follow the program name.
//
// --config names a gcfg file and --from-env applies environment variables on top of it; either
// may be used alone. With neither, DefaultConfigPath is used. A configuration file that does not
// exist is an error unless --allow-missing-file is given, in which case it is ignored.
func ReadOptions(args []string) (Options, error) {
	var o Options
	flags := flag.NewFlagSet("flagpole", flag.ContinueOnError)
	flags.StringVar(&o.ConfigFile, "config", "", "configuration file location")
	flags.BoolVar(&o.AllowMissingFile, "allow-missing-file", false, "ignore a configuration file that does not exist")
	flags.BoolVar(&o.UseEnvironment, "from-env", false, "read configuration from environment variables")
	if err := flags.Parse(args); err != nil {
		return o, err
	}

	if o.ConfigFile == "" && !o.UseEnvironment {
		o.ConfigFile = DefaultConfigPath
	}
	if o.ConfigFile == "" {
		return o, nil
	}
	if _, err := os.Stat(o.ConfigFile); errors.Is(err, fs.ErrNotExist) {
		if !o.AllowMissingFile {
			return o, fmt.Errorf("configuration file %q does not exist", o.ConfigFile)
		}
		o.ConfigFile = ""
	}
	return o, nil
}

// DescribeVersion shows the build metadata of a version such as "1.4.0+999" as "1.4.0 (build 999)".
func DescribeVersion(version string) string {
	if base, build, ok := strings.Cut(version, "+"); ok {
		return base + " (build " + build + ")"
	}
	return version
}
