package lib

import (
	"errors"
	"net"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sts"
)

const maxExchangeRetries = 3

// Classification describes how a failed exchange call may be retried.
type Classification int

const (
	// NoRetry covers malformed requests and every other permanent failure.
	NoRetry Classification = iota

	// RetryImmediate covers transport failures, IdP communication failures
	// and identity tokens that may only be transiently stale.
	RetryImmediate

	// RetryBackoff covers server-side errors, throttling and clock skew,
	// where retrying without a pause would just add load.
	RetryBackoff
)

// clock skew is reported under several codes depending on service age.
var clockSkewCodes = map[string]bool{
	"RequestTimeTooSkewed":      true,
	"RequestExpired":            true,
	"RequestInTheFuture":        true,
	"InvalidSignatureException": true,
	"SignatureDoesNotMatch":     true,
	"AuthFailure":               true,
}

// Classify decides whether a failure from the token exchange call is
// retryable and with what backoff. It is a pure function of the error.
func Classify(err error) Classification {
	if err == nil {
		return NoRetry
	}

	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case sts.ErrCodeInvalidIdentityTokenException, sts.ErrCodeIDPCommunicationErrorException:
			return RetryImmediate
		}
		if isNetworkError(aerr.OrigErr()) {
			return RetryImmediate
		}
		if rf, ok := err.(awserr.RequestFailure); ok && rf.StatusCode() >= 500 {
			return RetryBackoff
		}
		if request.IsErrorThrottle(err) {
			return RetryBackoff
		}
		if clockSkewCodes[aerr.Code()] {
			return RetryBackoff
		}
		return NoRetry
	}

	if isNetworkError(err) {
		return RetryImmediate
	}
	return NoRetry
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// STSRetryer plugs the exchange classification into the SDK retry loop, so
// the caches stay retry-agnostic and only see the final outcome.
type STSRetryer struct {
	client.DefaultRetryer
}

func NewSTSRetryer() STSRetryer {
	return STSRetryer{client.DefaultRetryer{NumMaxRetries: maxExchangeRetries}}
}

func (r STSRetryer) ShouldRetry(req *request.Request) bool {
	if req.HTTPResponse != nil && req.HTTPResponse.StatusCode >= 500 {
		return true
	}
	return Classify(req.Error) != NoRetry
}

func (r STSRetryer) RetryRules(req *request.Request) time.Duration {
	if Classify(req.Error) == RetryImmediate {
		return 0
	}
	return r.DefaultRetryer.RetryRules(req)
}
