// Package aws implements the EC2 inventory provider for ownerscan.
package aws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrSessionClosed is returned by calls made after Close.
var ErrSessionClosed = errors.New("aws session closed")

// defaultS3Region is used for uploads when neither the config nor the
// caller names a region.
const defaultS3Region = "us-east-1"

// Config holds AWS session settings.
type Config struct {
	// Profile selects a named profile from the shared config files.
	// Empty uses the default credential chain.
	Profile string

	// RequestsPerSecond paces DescribeInstances pages across all regions.
	// Zero disables pacing.
	RequestsPerSecond float64
}

// Session is the single provider-client resource of a run. Credentials
// and the HTTP connection pool are shared by every region; Close releases
// them.
type Session struct {
	awsCfg     aws.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	newEC2     func(region string) EC2API

	mu      sync.Mutex
	clients map[string]EC2API
	closed  bool
}

// Open loads the AWS configuration once and returns a session for the run.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	httpClient := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}

	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s := newSession(cfg, func(region string) EC2API {
		return ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
			o.Region = region
		})
	})
	s.awsCfg = awsCfg
	s.httpClient = httpClient

	log.Debug().Str("profile", cfg.Profile).Msg("aws session opened")
	return s, nil
}

func newSession(cfg Config, newEC2 func(region string) EC2API) *Session {
	s := &Session{
		newEC2:  newEC2,
		clients: make(map[string]EC2API),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond * 2)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return s
}

// client returns the cached EC2 client for region, creating it on first use.
func (s *Session) client(region string) (EC2API, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if c, ok := s.clients[region]; ok {
		return c, nil
	}
	c := s.newEC2(region)
	s.clients[region] = c
	return c, nil
}

// wait blocks until the limiter grants a request.
func (s *Session) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// AccountID returns the AWS account the session's credentials belong to.
func (s *Session) AccountID(ctx context.Context, region string) (string, error) {
	c, err := s.client(region)
	if err != nil {
		return "", err
	}

	output, err := c.DescribeAccountAttributes(ctx, &ec2.DescribeAccountAttributesInput{})
	if err != nil {
		return "", newProviderError(region, "DescribeAccountAttributes", err)
	}

	for _, attr := range output.AccountAttributes {
		if aws.ToString(attr.AttributeName) == "account-id" && len(attr.AttributeValues) > 0 {
			return aws.ToString(attr.AttributeValues[0].AttributeValue), nil
		}
	}
	return "unknown", nil
}

// S3 returns an S3 client sharing the session's credentials. An empty
// region falls back to the configured region, then to us-east-1.
func (s *Session) S3(region string) (*s3.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if region == "" {
		region = s.awsCfg.Region
	}
	if region == "" {
		region = defaultS3Region
	}
	return s3.NewFromConfig(s.awsCfg, func(o *s3.Options) {
		o.Region = region
	}), nil
}

// Close releases the session. Further calls fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.clients = nil
	if s.httpClient != nil {
		s.httpClient.CloseIdleConnections()
	}
	log.Debug().Msg("aws session closed")
	return nil
}
