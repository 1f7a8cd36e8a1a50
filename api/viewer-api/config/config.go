// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// WhepConfig is the signaling endpoint of the origin.
type WhepConfig struct {
	URL     string        `mapstructure:"url" validate:"required,url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type WebRTCConfig struct {
	// ICEServers is read as a comma separated list of stun:/turn: URLs.
	ICEServers         []string `mapstructure:"ice_servers"`
	ICEUsername        string   `mapstructure:"ice_username"`
	ICECredential      string   `mapstructure:"ice_credential"`
	ICETransportPolicy string   `mapstructure:"ice_transport_policy" validate:"oneof=all relay"`
}

// ICEServerURLs returns ICEServers trimmed, dropping blanks.
func (c WebRTCConfig) ICEServerURLs() []string {
	var urls []string
	for _, u := range c.ICEServers {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

type ReplayConfig struct {
	Capacity        int           `mapstructure:"capacity" validate:"gt=0"`
	SegmentInterval time.Duration `mapstructure:"segment_interval" validate:"gt=0"`
	DefaultSeconds  int           `mapstructure:"default_seconds" validate:"gt=0"`
	// ArtifactDir holds temporary replay files; empty uses the OS temp dir.
	ArtifactDir string `mapstructure:"artifact_dir"`
}

type ReconnectConfig struct {
	Delay         time.Duration `mapstructure:"delay" validate:"gte=0"`
	HiddenRecheck time.Duration `mapstructure:"hidden_recheck" validate:"gt=0"`
}

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path"`

	WhepConfig      WhepConfig      `mapstructure:"whep" validate:"required"`
	WebRTCConfig    WebRTCConfig    `mapstructure:"webrtc" validate:"required"`
	ReplayConfig    ReplayConfig    `mapstructure:"replay" validate:"required"`
	ReconnectConfig ReconnectConfig `mapstructure:"reconnect" validate:"required"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
		log.Printf("Reading from env variables.")
	}
	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "whep-viewer")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9090)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_PATH", "")

	v.SetDefault("WHEP__URL", "http://ezfeed.local:8000/whep")
	v.SetDefault("WHEP__TOKEN", "")
	v.SetDefault("WHEP__TIMEOUT", "2s")

	v.SetDefault("WEBRTC__ICE_SERVERS", "stun:stun.l.google.com:19302")
	v.SetDefault("WEBRTC__ICE_USERNAME", "")
	v.SetDefault("WEBRTC__ICE_CREDENTIAL", "")
	v.SetDefault("WEBRTC__ICE_TRANSPORT_POLICY", "all")

	v.SetDefault("REPLAY__CAPACITY", 120)
	v.SetDefault("REPLAY__SEGMENT_INTERVAL", "1s")
	v.SetDefault("REPLAY__DEFAULT_SECONDS", 15)
	v.SetDefault("REPLAY__ARTIFACT_DIR", "")

	v.SetDefault("RECONNECT__DELAY", "0s")
	v.SetDefault("RECONNECT__HIDDEN_RECHECK", "1s")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
