package env

import (
	"os"
	"strings"
)

const (
	environmentVariableNameUploadAccessKey    = "UPLOAD_ACCESS_KEY"
	environmentVariableNameUploadSecretKey    = "UPLOAD_SECRET_KEY"
	environmentVariableNameUploadSessionToken = "UPLOAD_SESSION_TOKEN"
	environmentVariableNameUploadRegion       = "UPLOAD_REGION"
	environmentVariableNameUploadConfigFile   = "UPLOAD_CONFIG_FILE"
	environmentVariableNameUploadProfile      = "UPLOAD_PROFILE"
	environmentVariableNameUploadEndpoint     = "UPLOAD_ENDPOINT"
	environmentVariableNameDisableSecure      = "UPLOAD_DISABLE_SECURE_PROTOCOL"
)

func CredentialsFromEnvironment() (string, string) {
	accessKey := os.Getenv(environmentVariableNameUploadAccessKey)
	secretKey := os.Getenv(environmentVariableNameUploadSecretKey)
	if accessKey == "" || secretKey == "" {
		return "", ""
	}
	return accessKey, secretKey
}

func SessionTokenFromEnvironment() string {
	return os.Getenv(environmentVariableNameUploadSessionToken)
}

func RegionFromEnvironment() string {
	return os.Getenv(environmentVariableNameUploadRegion)
}

func ConfigFileFromEnvironment() string {
	return os.Getenv(environmentVariableNameUploadConfigFile)
}

func ProfileFromEnvironment() string {
	return os.Getenv(environmentVariableNameUploadProfile)
}

func EndpointFromEnvironment() string {
	return os.Getenv(environmentVariableNameUploadEndpoint)
}

func DisableSecureProtocolFromEnvironment() (bool, bool) {
	value := strings.ToLower(os.Getenv(environmentVariableNameDisableSecure))
	if value == "" {
		return false, false
	}
	return value == "true" || value == "yes" || value == "y" || value == "1", true
}
