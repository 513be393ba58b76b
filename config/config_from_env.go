package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// LoadConfigFromEnvironment sets parameters in a Config struct from environment variables.
//
// The Config parameter should be initialized with default values first.
func LoadConfigFromEnvironment(c *Config, loggers ldlog.Loggers) error {
	reader := ct.NewVarReaderFromEnvironment()

	reader.ReadStruct(&c.Main, false)
	reader.ReadStruct(&c.Database, false)
	reader.ReadStruct(&c.Redis, false)
	reader.ReadStruct(&c.Auth, false)
	rejectObsoleteVariableName("INIT_API_TOKENS", "INIT_ADMIN_API_TOKENS", reader)
	reader.ReadStruct(&c.Streaming, false)
	reader.ReadStruct(&c.Experimental, false)
	reader.ReadStruct(&c.Events, false)
	reader.ReadStruct(&c.Import, false)
	reader.ReadStruct(&c.Proxy, false)

	reader.ReadStruct(&c.MetricsConfig.Datadog, false)
	if c.MetricsConfig.Datadog.Enabled {
		for tagName, tagVal := range reader.FindPrefixedValues("DATADOG_TAG_") {
			c.MetricsConfig.Datadog.Tag = append(c.MetricsConfig.Datadog.Tag, tagName+":"+tagVal)
		}
		sort.Strings(c.MetricsConfig.Datadog.Tag) // for test determinacy
	}
	reader.ReadStruct(&c.MetricsConfig.Stackdriver, false)
	reader.ReadStruct(&c.MetricsConfig.Prometheus, false)

	if !reader.Result().OK() {
		return reader.Result().GetError()
	}

	return ValidateConfig(c, loggers)
}

func rejectObsoleteVariableName(oldName, preferredName string, reader *ct.VarReader) {
	// Unrecognized environment variables are normally ignored, but a variable that used to be part of
	// the configuration is an error so that settings are not silently dropped.
	if os.Getenv(oldName) != "" {
		if preferredName == "" {
			reader.AddError(ct.ValidationPath{oldName}, errors.New("this variable is no longer supported"))
		} else {
			reader.AddError(ct.ValidationPath{oldName},
				fmt.Errorf("this variable is no longer supported; use %s", preferredName))
		}
	}
}
