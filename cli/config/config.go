package config

import (
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/cobra"
)

type Args struct {
	ConfigPath string
}

type GlobalConfig struct {
	LogLevel        string `yaml:"LogLevel" env:"LOG_LEVEL" env-default:"info" env-description:"Logger's log level"`
	LogLevelFormat  string `yaml:"LogLevelFormat" env:"LOG_LEVEL_FORMAT" env-default:"capitalColor" env-description:"Logger's level format"`
	LogFilePath     string `yaml:"LogFilePath" env:"LOG_FILE_PATH" env-default:"" env-description:"Path to an additional rotating log file (empty to disable)"`
}

// ProcessArgs processes and handles CLI arguments.
func ProcessArgs(cfg interface{}, a *Args, cmd *cobra.Command) {
	configFlag := "config"
	cmd.PersistentFlags().StringVarP(&a.ConfigPath, configFlag, "c", "./config/config.yaml", "Path to configuration file")

	envHelp, _ := cleanenv.GetDescription(cfg, nil)
	cmd.SetUsageTemplate(envHelp + "\n" + cmd.UsageTemplate())
}
