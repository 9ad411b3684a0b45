package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func printBanner() {
	fmt.Printf("%s%s", colorCyan, colorBold)
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║  PayGate Transaction Routing & Risk Control                  ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Rule-driven dispatch, fraud scoring and alerting            ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Printf("%s", colorReset)
}

func printStep(step, message string) {
	fmt.Printf("%s[%s]%s %s%s%s\n", colorBlue, step, colorReset, colorBold, message, colorReset)
}

func printSuccess(message string) {
	fmt.Printf("%s✓%s %s\n", colorGreen, colorReset, message)
}

func printWarning(message string) {
	fmt.Printf("%s⚠%s %s\n", colorYellow, colorReset, message)
}

func printError(message string) {
	fmt.Printf("%s✗%s %s\n", colorRed, colorReset, message)
}

func printInfo(message string) {
	fmt.Printf("%sℹ%s %s\n", colorCyan, colorReset, message)
}

var configPaths []string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "paygate",
		Short:         "Transaction routing and risk control engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&configPaths, "config", nil, "directories searched for config.yaml")

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newAlertsCommand(),
		newSecurityCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}
