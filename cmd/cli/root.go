package cli

import (
	"errors"
	"fmt"
	"os"

	"tacticaldesk/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "tacticaldesk",
	Short: "Helpdesk automation engine",
	Long: `TacticalDesk matches ticket and webhook events against automation rules
and runs their actions: ntfy and SMTP notifications, comments and ticket
field changes.`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// ExecuteMigrate 以 migrate 子命令执行，供独立的迁移二进制使用
func ExecuteMigrate() {
	rootCmd.SetArgs(append([]string{"migrate"}, os.Args[1:]...))
	Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Println("Error reading config file:", err)
		}
	}
}
