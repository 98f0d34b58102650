package aws

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

var (
	authorizationCodes = map[string]bool{
		"AuthFailure":                 true,
		"UnauthorizedOperation":       true,
		"InvalidClientTokenId":        true,
		"SignatureDoesNotMatch":       true,
		"ExpiredToken":                true,
		"RequestExpired":              true,
		"OptInRequired":               true,
		"Blocked":                     true,
		"UnrecognizedClientException": true,
	}
	throttlingCodes = map[string]bool{
		"RequestLimitExceeded":     true,
		"Throttling":               true,
		"ThrottlingException":      true,
		"TooManyRequestsException": true,
		"SlowDown":                 true,
	}
	invalidFilterCodes = map[string]bool{
		"InvalidParameterValue":       true,
		"InvalidParameterCombination": true,
		"InvalidParameter":            true,
		"InvalidFilter":               true,
		"FilterLimitExceeded":         true,
		"MissingParameter":            true,
	}
)

// newProviderError wraps an SDK failure with its region, operation and kind.
func newProviderError(region, op string, err error) error {
	return &resource.ProviderError{
		Region: region,
		Op:     op,
		Kind:   classify(err),
		Err:    err,
	}
}

// classify maps an SDK error onto a provider error kind.
func classify(err error) resource.ErrorKind {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case authorizationCodes[code], strings.HasPrefix(code, "AccessDenied"):
			return resource.ErrorKindAuthorization
		case throttlingCodes[code]:
			return resource.ErrorKindThrottling
		case invalidFilterCodes[code]:
			return resource.ErrorKindInvalidFilter
		}
		return resource.ErrorKindUnknown
	}

	if errors.Is(err, context.Canceled) {
		return resource.ErrorKindUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return resource.ErrorKindConnectivity
	}
	return resource.ErrorKindUnknown
}
