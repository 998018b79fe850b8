// Package lib implements a refreshing credentials provider that exchanges a
// web identity token for temporary session credentials and keeps both the
// token and the credentials fresh without making callers pay for the
// exchange on every request.
package lib

import (
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/likid0/CredentialsProvider/internal/refreshable"
)

// Default refresh windows. The async window is deliberately much larger than
// the blocking one so credentials are usually replaced in the background and
// nobody has to wait for the exchange.
const (
	DefaultSessionBlockingWindow = 20 * time.Second
	DefaultSessionAsyncWindow    = 5 * time.Minute
	DefaultTokenBlockingWindow   = 30 * time.Second
	DefaultTokenAsyncWindow      = 5 * time.Minute
)

// ProviderOptions configures a Provider. Exactly one token mode must be
// set: a web identity token (literal or file), or a refresh token (literal
// or file) together with the IdP settings.
type ProviderOptions struct {
	// RoleARN or RoleARNFile identifies the role to assume. The file form
	// is read once at construction.
	RoleARN     string
	RoleARNFile string

	// RoleSessionName labels the assumed role session. Required.
	RoleSessionName string

	// Static token mode.
	WebIdentityToken     string
	WebIdentityTokenFile string

	// Refresh token mode.
	RefreshToken     string
	RefreshTokenFile string
	IdPURL           string
	ClientID         string
	ClientSecret     string

	// UseIDToken selects the id_token from the IdP response instead of the
	// access_token.
	UseIDToken bool

	// DurationSeconds, when > 0, requests that session lifetime from the
	// exchange. Policy, when set, is an inline session policy document.
	DurationSeconds int64
	Policy          string

	// STS overrides the exchange client, mainly for tests. STSEndpoint
	// points the default client at a non-AWS endpoint (e.g. Ceph RGW).
	STS         STSClient
	STSEndpoint string

	// Refresh windows; zero values take the defaults above.
	SessionBlockingWindow time.Duration
	SessionAsyncWindow    time.Duration
	TokenBlockingWindow   time.Duration
	TokenAsyncWindow      time.Duration

	// OnAsyncError observes failures of background refreshes, which are
	// never surfaced to callers.
	OnAsyncError func(error)
}

func (o ProviderOptions) staticTokenMode() bool {
	return o.WebIdentityToken != "" || o.WebIdentityTokenFile != ""
}

func (o ProviderOptions) refreshTokenMode() bool {
	return o.RefreshToken != "" || o.RefreshTokenFile != ""
}

func (o ProviderOptions) Validate() error {
	if o.RoleSessionName == "" {
		return ErrMissingRoleSessionName
	}
	if o.RoleARN == "" && o.RoleARNFile == "" {
		return ErrMissingRoleARN
	}
	if !o.staticTokenMode() && !o.refreshTokenMode() {
		return ErrMissingTokenSource
	}
	if o.staticTokenMode() && o.refreshTokenMode() {
		return ErrConflictingTokenModes
	}
	if o.refreshTokenMode() && o.IdPURL == "" {
		return ErrMissingIdPURL
	}
	return nil
}

func (o ProviderOptions) ApplyDefaults() ProviderOptions {
	if o.SessionBlockingWindow == 0 {
		o.SessionBlockingWindow = DefaultSessionBlockingWindow
	}
	if o.SessionAsyncWindow == 0 {
		o.SessionAsyncWindow = DefaultSessionAsyncWindow
	}
	if o.TokenBlockingWindow == 0 {
		o.TokenBlockingWindow = DefaultTokenBlockingWindow
	}
	if o.TokenAsyncWindow == 0 {
		o.TokenAsyncWindow = DefaultTokenAsyncWindow
	}
	return o
}

// Provider vends temporary session credentials obtained by exchanging a web
// identity token, refreshing them before they expire. It satisfies the
// aws-sdk-go credentials.Provider interface, so it can be plugged straight
// into an S3 (or any AWS-API) client.
//
// When refresh token mode is configured the identity token itself lives in
// a second cache that feeds the session cache: a session refresh reads the
// token cache, which refreshes the token on its own schedule. A
// stale-but-valid token is acceptable input to the exchange.
type Provider struct {
	opts    ProviderOptions
	roleARN string
	sts     STSClient

	tokenSource TokenSource               // static token mode
	tokenTask   *refreshable.Task[Token]  // refresh token mode

	sessionTask *refreshable.Task[SessionCredentials]
}

// NewProvider validates the options and builds the cache chain. It performs
// no remote calls; the first Retrieve triggers the first exchange.
func NewProvider(opts ProviderOptions) (*Provider, error) {
	opts = opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	roleARN, err := resolveRoleARN(opts.RoleARN, opts.RoleARNFile)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		opts:    opts,
		roleARN: roleARN,
		sts:     opts.STS,
	}
	if p.sts == nil {
		p.sts = NewSTSClient(opts.STSEndpoint)
	}

	switch {
	case opts.refreshTokenMode():
		refreshToken := opts.RefreshToken
		if refreshToken == "" {
			refreshToken, err = firstLine(opts.RefreshTokenFile, "refresh token")
			if err != nil {
				return nil, err
			}
		}
		idp := NewIdPClient(opts.IdPURL, opts.ClientID, opts.ClientSecret, refreshToken, !opts.UseIDToken)
		p.tokenTask, err = refreshable.NewTask(refreshable.TaskOptions[Token]{
			Fetch:                 idp.RefreshIdentityToken,
			ShouldBlockingRefresh: refreshable.BlockingExpiryPredicate(opts.TokenBlockingWindow, tokenExpiry),
			ShouldAsyncRefresh:    refreshable.AsyncExpiryPredicate(opts.TokenAsyncWindow, tokenExpiry),
			OnAsyncError:          opts.OnAsyncError,
		})
		if err != nil {
			return nil, err
		}
	case opts.WebIdentityToken != "":
		p.tokenSource = NewStaticTokenSource(opts.WebIdentityToken)
	default:
		p.tokenSource = NewFileTokenSource(opts.WebIdentityTokenFile)
	}

	p.sessionTask, err = refreshable.NewTask(refreshable.TaskOptions[SessionCredentials]{
		Fetch:                 p.newSession,
		ShouldBlockingRefresh: refreshable.BlockingExpiryPredicate(opts.SessionBlockingWindow, sessionExpiry),
		ShouldAsyncRefresh:    refreshable.AsyncExpiryPredicate(opts.SessionAsyncWindow, sessionExpiry),
		OnAsyncError:          opts.OnAsyncError,
	})
	if err != nil {
		if p.tokenTask != nil {
			p.tokenTask.Close()
		}
		return nil, err
	}

	return p, nil
}

// Retrieve returns valid session credentials, refreshing them if the
// refresh policy demands it. Safe for many concurrent callers.
func (p *Provider) Retrieve() (credentials.Value, error) {
	creds, err := p.RetrieveSessionCredentials()
	if err != nil {
		return credentials.Value{ProviderName: ProviderName}, err
	}
	return creds.Value(), nil
}

// RetrieveSessionCredentials is Retrieve with the expiration preserved.
func (p *Provider) RetrieveSessionCredentials() (*SessionCredentials, error) {
	return p.sessionTask.GetValue()
}

// IsExpired reports whether the next Retrieve would have to block for a
// refresh. Part of the credentials.Provider interface.
func (p *Provider) IsExpired() bool {
	creds := p.sessionTask.Current()
	if creds == nil {
		return true
	}
	if creds.Expiration == nil {
		return false
	}
	return time.Until(*creds.Expiration) < p.opts.SessionBlockingWindow
}

// Refresh forces a synchronous refresh of the session credentials.
func (p *Provider) Refresh() error {
	_, err := p.sessionTask.ForceGetValue()
	return err
}

// RefreshToken forces a synchronous refresh of the identity token. It is a
// no-op unless refresh token mode is configured.
func (p *Provider) RefreshToken() error {
	if p.tokenTask == nil {
		log.Debug("no token cache configured, nothing to refresh")
		return nil
	}
	_, err := p.tokenTask.ForceGetValue()
	return err
}

// Close shuts down the background refresh workers. It must not be called
// while other goroutines still use the provider.
func (p *Provider) Close() {
	p.sessionTask.Close()
	if p.tokenTask != nil {
		p.tokenTask.Close()
	}
}

// newSession performs one token exchange. It is the fetch callback of the
// session cache.
func (p *Provider) newSession() (*SessionCredentials, error) {
	log.Debug("refreshing session credentials")

	token, err := p.identityToken()
	if err != nil {
		return nil, err
	}

	input := &sts.AssumeRoleWithWebIdentityInput{
		RoleArn:          aws.String(p.roleARN),
		RoleSessionName:  aws.String(p.opts.RoleSessionName),
		WebIdentityToken: aws.String(token.Value),
	}
	if p.opts.DurationSeconds > 0 {
		input.DurationSeconds = aws.Int64(p.opts.DurationSeconds)
	}
	if p.opts.Policy != "" {
		input.Policy = aws.String(p.opts.Policy)
	}

	resp, err := p.sts.AssumeRoleWithWebIdentity(input)
	if err != nil {
		return nil, err
	}
	if resp.Credentials == nil {
		return nil, errors.New("assume role response contained no credentials")
	}

	creds := newSessionCredentials(resp.Credentials)
	if creds.Expiration != nil {
		log.Debugf("session credentials refreshed, expire in %s", time.Until(*creds.Expiration).Round(time.Second))
	}
	return creds, nil
}

func (p *Provider) identityToken() (*Token, error) {
	if p.tokenTask != nil {
		log.Debug("checking whether to refresh identity token")
		return p.tokenTask.GetValue()
	}
	return p.tokenSource.Token()
}
