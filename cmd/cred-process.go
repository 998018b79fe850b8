package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const credProcessVersion = 1

var pretty bool

type credProcess struct {
	Version         int    `json:"Version"`
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	SessionToken    string `json:"SessionToken"`
	Expiration      string `json:"Expiration,omitempty"`
}

// credProcessCmd represents the cred-process command
var credProcessCmd = &cobra.Command{
	Use:     "cred-process",
	Short:   "cred-process generates a credential_process ready output",
	RunE:    credProcessRun,
	Example: "[profile foo]\ncredential_process = credentials-provider cred-process -p foo",
}

func init() {
	RootCmd.AddCommand(credProcessCmd)
	addProviderFlags(credProcessCmd)
	credProcessCmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty print display")
}

func credProcessRun(cmd *cobra.Command, args []string) error {
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

	cp := credProcess{
		Version:         credProcessVersion,
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
	}
	if creds.Expiration != nil {
		cp.Expiration = creds.Expiration.Format(time.RFC3339)
	}

	var output []byte
	if pretty {
		output, err = json.MarshalIndent(cp, "", "    ")
	} else {
		output, err = json.Marshal(cp)
	}
	if err != nil {
		return err
	}

	fmt.Println(string(output))
	return nil
}
