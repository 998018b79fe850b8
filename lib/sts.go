package lib

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sts"
)

// STSClient is the subset of the STS API the provider calls.
type STSClient interface {
	AssumeRoleWithWebIdentity(*sts.AssumeRoleWithWebIdentityInput) (*sts.AssumeRoleWithWebIdentityOutput, error)
}

// NewSTSClient builds an STS client for the web identity exchange. The call
// is unsigned, so anonymous credentials are used, and failures are retried
// according to the exchange classification.
func NewSTSClient(endpoint string) STSClient {
	cfg := aws.NewConfig().WithCredentials(credentials.AnonymousCredentials)
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}
	cfg = request.WithRetryer(cfg, NewSTSRetryer())
	return sts.New(session.Must(session.NewSession()), cfg)
}
