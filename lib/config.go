package lib

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// Profiles maps profile names to their settings, parsed from an AWS-config
// style ini file.
type Profiles map[string]map[string]string

// DefaultConfigFile returns AWS_CONFIG_FILE if set, else ~/.aws/config.
func DefaultConfigFile() (string, error) {
	if file, ok := os.LookupEnv("AWS_CONFIG_FILE"); ok {
		return file, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".aws", "config"), nil
}

// LoadProfiles parses the config file. Section names may carry the standard
// "profile " prefix, which is stripped.
func LoadProfiles(file string) (Profiles, error) {
	cfg, err := ini.Load(file)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load config file %s", file)
	}

	profiles := Profiles{}
	for _, section := range cfg.Sections() {
		name := strings.TrimPrefix(section.Name(), "profile ")
		if name == ini.DefaultSection {
			continue
		}
		profiles[name] = section.KeysHash()
	}
	return profiles, nil
}

// ProviderOptions builds options from the named profile. CLI flags are
// expected to be applied on top by the caller.
func (p Profiles) ProviderOptions(name string) (ProviderOptions, error) {
	profile, ok := p[name]
	if !ok {
		return ProviderOptions{}, errors.Errorf("profile '%s' not found in config", name)
	}

	opts := ProviderOptions{
		RoleARN:              profile["role_arn"],
		RoleARNFile:          profile["role_arn_file"],
		RoleSessionName:      profile["role_session_name"],
		WebIdentityToken:     profile["web_identity_token"],
		WebIdentityTokenFile: profile["web_identity_token_file"],
		RefreshToken:         profile["refresh_token"],
		RefreshTokenFile:     profile["refresh_token_file"],
		IdPURL:               profile["idp_url"],
		ClientID:             profile["client_id"],
		ClientSecret:         profile["client_secret"],
		Policy:               profile["policy"],
		STSEndpoint:          profile["sts_endpoint"],
	}

	if v := profile["use_id_token"]; v != "" {
		useIDToken, err := strconv.ParseBool(v)
		if err != nil {
			return ProviderOptions{}, errors.Wrapf(err, "invalid use_id_token in profile '%s'", name)
		}
		opts.UseIDToken = useIDToken
	}

	if v := profile["duration_seconds"]; v != "" {
		duration, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ProviderOptions{}, errors.Wrapf(err, "invalid duration_seconds in profile '%s'", name)
		}
		opts.DurationSeconds = duration
	}

	return opts, nil
}
