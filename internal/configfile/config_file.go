package configfile

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/shuliangfu/upload/internal/env"
)

type profileConfig struct {
	AccessKey             string `toml:"access_key"`
	SecretKey             string `toml:"secret_key"`
	Region                string `toml:"region"`
	Endpoint              string `toml:"endpoint"`
	PartSize              string `toml:"part_size"`
	DisableSecureProtocol bool   `toml:"disable_secure_protocol"`
}

var (
	profileConfigs      map[string]*profileConfig
	profileConfigsError error
	profileConfigsOnce  sync.Once
)

func CredentialsFromConfigFile() (string, string, error) {
	profile, err := getProfile()
	if err != nil || profile == nil {
		return "", "", err
	}
	return profile.AccessKey, profile.SecretKey, nil
}

func RegionFromConfigFile() (string, error) {
	profile, err := getProfile()
	if err != nil || profile == nil {
		return "", err
	}
	return profile.Region, nil
}

func EndpointFromConfigFile() (string, error) {
	profile, err := getProfile()
	if err != nil || profile == nil {
		return "", err
	}
	return profile.Endpoint, nil
}

// PartSizeFromConfigFile 解析形如 "8MB" 的分片大小配置
func PartSizeFromConfigFile() (int64, error) {
	profile, err := getProfile()
	if err != nil || profile == nil || profile.PartSize == "" {
		return 0, err
	}
	return units.RAMInBytes(profile.PartSize)
}

func DisableSecureProtocolFromConfigFile() (bool, error) {
	profile, err := getProfile()
	if err != nil || profile == nil {
		return false, err
	}
	return profile.DisableSecureProtocol, nil
}

func getProfile() (*profileConfig, error) {
	if err := load(); err != nil {
		return nil, err
	}
	profileName := env.ProfileFromEnvironment()
	if profileName == "" {
		profileName = "default"
	}
	profile, ok := profileConfigs[profileName]
	if !ok || profile == nil {
		return nil, nil
	}
	return profile, nil
}

func load() error {
	profileConfigsOnce.Do(func() {
		profileConfigsError = _load()
	})
	return profileConfigsError
}

func _load() error {
	configFilePath := env.ConfigFileFromEnvironment()
	if configFilePath == "" {
		configFilePath = getDefaultConfigFilePath()
	}
	if _, err := os.Stat(configFilePath); err != nil {
		return nil
	}
	_, err := toml.DecodeFile(configFilePath, &profileConfigs)
	return err
}

func getDefaultConfigFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return filepath.Join(homeDir, ".upload", "config.toml")
}
