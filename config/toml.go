package config

import (
	"bytes"
	"os"
	"path/filepath"
	"text/template"

	"github.com/spf13/viper"
)

var configTemplate *template.Template

const DefaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

DataDir = "{{ .DataDir }}"
Network = "{{ .Network }}"
RPCEndPoint = "{{ .RPCEndPoint }}"
UnlockedOnInit = {{ .UnlockedOnInit }}
PrivacyMode = {{ .PrivacyMode }}
AutoLockMinutes = {{ .AutoLockMinutes }}

[cache]

Capacity = {{ .Cache.Capacity }}
TTLSeconds = {{ .Cache.TTLSeconds }}

[batch]

MaxConcurrent = {{ .Batch.MaxConcurrent }}
MaxRetries = {{ .Batch.MaxRetries }}
BaseDelaySeconds = {{ .Batch.BaseDelaySeconds }}
ChunkSize = {{ .Batch.ChunkSize }}

`

// WriteWalletConfigFile renders the config into TOML at the given path.
func WriteWalletConfigFile(configDirPath string, configName string, config Config, mode os.FileMode) error {
	var buffer bytes.Buffer
	var err error

	if configTemplate, err = template.New("configFileTemplate").Parse(DefaultConfigTemplate); err != nil {
		return err
	}

	if err = configTemplate.Execute(&buffer, config); err != nil {
		return err
	}
	configPath := filepath.Join(configDirPath, configName)
	return os.WriteFile(configPath, buffer.Bytes(), mode)
}

// ReadWalletConfigFile loads a TOML config, filling unset keys from
// DefaultWalletConfig.
func ReadWalletConfigFile(configDirPath string, configName string) (Config, error) {
	cfg := DefaultWalletConfig

	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(filepath.Join(configDirPath, configName))
	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
