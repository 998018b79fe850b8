package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/spf13/cobra"
)

// envCmd represents the env command
var envCmd = &cobra.Command{
	Use:     "env",
	Short:   "env prints out export commands for the retrieved credentials",
	RunE:    envRun,
	Example: "source <(credentials-provider env -p foo)",
}

func init() {
	RootCmd.AddCommand(envCmd)
	addProviderFlags(envCmd)
}

func printExport(varName, varValue string) {
	exportString := "export %s=%s\n"
	myShell, hasShell := os.LookupEnv("SHELL")
	if hasShell && strings.Contains(myShell, "fish") {
		exportString = "set -x %s %s\n"
	}
	fmt.Printf(exportString, varName, shellescape.Quote(varValue))
}

func envRun(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return ErrTooManyArguments
	}

	p, err := newProvider(cmd)
	if err != nil {
		return err
	}
	defer p.Close()

	creds, err := p.RetrieveSessionCredentials()
	if err != nil {
		return err
	}

	printExport("AWS_ACCESS_KEY_ID", creds.AccessKeyID)
	printExport("AWS_SECRET_ACCESS_KEY", creds.SecretAccessKey)
	printExport("AWS_SESSION_TOKEN", creds.SessionToken)
	if creds.Expiration != nil {
		printExport("AWS_CREDENTIAL_EXPIRATION", creds.Expiration.Format(time.RFC3339))
	}
	return nil
}
