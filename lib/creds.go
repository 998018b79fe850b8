package lib

import (
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/service/sts"
)

// ProviderName is reported in credentials.Value handed to AWS clients.
const ProviderName = "web-identity"

// SessionCredentials holds one set of temporary session credentials together
// with its expiration. Instances are immutable once produced; a refresh
// replaces the whole value.
type SessionCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      *time.Time
}

func newSessionCredentials(c *sts.Credentials) *SessionCredentials {
	creds := &SessionCredentials{
		Expiration: c.Expiration,
	}
	if c.AccessKeyId != nil {
		creds.AccessKeyID = *c.AccessKeyId
	}
	if c.SecretAccessKey != nil {
		creds.SecretAccessKey = *c.SecretAccessKey
	}
	if c.SessionToken != nil {
		creds.SessionToken = *c.SessionToken
	}
	return creds
}

// Value converts to the aws-sdk-go credentials value.
func (c *SessionCredentials) Value() credentials.Value {
	return credentials.Value{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		ProviderName:    ProviderName,
	}
}

func sessionExpiry(c *SessionCredentials) *time.Time {
	return c.Expiration
}

// Token is one web identity token with an optional recorded expiry. Tokens
// from static or file sources carry no expiry and are never refreshed by
// policy.
type Token struct {
	Value      string
	Expiration *time.Time
}

func tokenExpiry(t *Token) *time.Time {
	return t.Expiration
}
