package cmd

import (
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/likid0/CredentialsProvider/lib"
)

// shared provider flags
var (
	profileName string
	configFile  string

	roleARN     string
	roleARNFile string
	sessionName string

	token     string
	tokenFile string

	refreshToken     string
	refreshTokenFile string
	idpURL           string
	clientID         string
	clientSecret     string
	useIDToken       bool

	durationSeconds int64
	policyDoc       string
	stsEndpoint     string
)

func addProviderFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&profileName, "profile", "p", "", "Load settings from this profile in the AWS config file")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Config file to read profiles from (default ~/.aws/config)")
	cmd.Flags().StringVar(&roleARN, "role-arn", "", "ARN of the role to assume")
	cmd.Flags().StringVar(&roleARNFile, "role-arn-file", "", "File containing the ARN of the role to assume")
	cmd.Flags().StringVar(&sessionName, "session-name", "", "Identifier for the assumed role session")
	cmd.Flags().StringVar(&token, "token", "", "Web identity token")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "File containing the web identity token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token used to obtain identity tokens")
	cmd.Flags().StringVar(&refreshTokenFile, "refresh-token-file", "", "File containing the OAuth refresh token")
	cmd.Flags().StringVar(&idpURL, "idp-url", "", "IdP token endpoint for the refresh token grant")
	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth client id")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth client secret")
	cmd.Flags().BoolVar(&useIDToken, "use-id-token", false, "Present the id_token instead of the access_token to the exchange")
	cmd.Flags().Int64VarP(&durationSeconds, "duration", "t", 0, "Requested session duration in seconds")
	cmd.Flags().StringVar(&policyDoc, "policy", "", "Inline session policy document")
	cmd.Flags().StringVar(&stsEndpoint, "sts-endpoint", "", "Endpoint of the STS service")
}

// providerOptions merges profile config (when --profile is given) with the
// explicit flags; flags win.
func providerOptions(cmd *cobra.Command) (lib.ProviderOptions, error) {
	var opts lib.ProviderOptions

	if profileName != "" {
		file := configFile
		if file == "" {
			var err error
			file, err = lib.DefaultConfigFile()
			if err != nil {
				return opts, err
			}
		}
		profiles, err := lib.LoadProfiles(file)
		if err != nil {
			return opts, err
		}
		opts, err = profiles.ProviderOptions(profileName)
		if err != nil {
			return opts, err
		}
	}

	if roleARN != "" {
		opts.RoleARN = roleARN
	}
	if roleARNFile != "" {
		opts.RoleARNFile = roleARNFile
	}
	if sessionName != "" {
		opts.RoleSessionName = sessionName
	}
	if token != "" {
		opts.WebIdentityToken = token
	}
	if tokenFile != "" {
		opts.WebIdentityTokenFile = tokenFile
	}
	if refreshToken != "" {
		opts.RefreshToken = refreshToken
	}
	if refreshTokenFile != "" {
		opts.RefreshTokenFile = refreshTokenFile
	}
	if idpURL != "" {
		opts.IdPURL = idpURL
	}
	if clientID != "" {
		opts.ClientID = clientID
	}
	if clientSecret != "" {
		opts.ClientSecret = clientSecret
	}
	if cmd.Flags().Changed("use-id-token") {
		opts.UseIDToken = useIDToken
	}
	if durationSeconds > 0 {
		opts.DurationSeconds = durationSeconds
	}
	if policyDoc != "" {
		opts.Policy = policyDoc
	}
	if stsEndpoint != "" {
		opts.STSEndpoint = stsEndpoint
	}

	for _, path := range []*string{&opts.RoleARNFile, &opts.WebIdentityTokenFile, &opts.RefreshTokenFile} {
		if *path == "" {
			continue
		}
		expanded, err := homedir.Expand(*path)
		if err != nil {
			return opts, err
		}
		*path = expanded
	}

	return opts, nil
}

func newProvider(cmd *cobra.Command) (*lib.Provider, error) {
	opts, err := providerOptions(cmd)
	if err != nil {
		return nil, err
	}
	return lib.NewProvider(opts)
}
