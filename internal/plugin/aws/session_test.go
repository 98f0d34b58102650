package aws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

// mockEC2Client implements EC2API for testing.
type mockEC2Client struct {
	DescribeInstancesFunc    func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	describeAccountAttrsFunc func(ctx context.Context, params *ec2.DescribeAccountAttributesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAccountAttributesOutput, error)
}

func (m *mockEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if m.DescribeInstancesFunc != nil {
		return m.DescribeInstancesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeInstancesOutput{}, nil
}

func (m *mockEC2Client) DescribeAccountAttributes(ctx context.Context, params *ec2.DescribeAccountAttributesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAccountAttributesOutput, error) {
	if m.describeAccountAttrsFunc != nil {
		return m.describeAccountAttrsFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeAccountAttributesOutput{}, nil
}

func testSession(t *testing.T, cfg Config, clients map[string]*mockEC2Client) *Session {
	t.Helper()
	return newSession(cfg, func(region string) EC2API {
		c, ok := clients[region]
		require.True(t, ok, "unexpected region %s", region)
		return c
	})
}

func TestListInstances_ConvertsInstances(t *testing.T) {
	launch := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	client := &mockEC2Client{
		DescribeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			assert.Empty(t, params.Filters)
			return &ec2.DescribeInstancesOutput{
				Reservations: []types.Reservation{{
					Instances: []types.Instance{
						{
							InstanceId:   aws.String("i-123"),
							InstanceType: types.InstanceTypeT3Micro,
							State:        &types.InstanceState{Name: types.InstanceStateNameRunning},
							LaunchTime:   aws.Time(launch),
							Tags: []types.Tag{
								{Key: aws.String("Name"), Value: aws.String("web")},
								{Key: aws.String("Owner"), Value: aws.String("alice")},
							},
						},
						{InstanceId: aws.String("i-456"), InstanceType: types.InstanceTypeM5Large},
					},
				}},
			}, nil
		},
	}
	s := testSession(t, Config{}, map[string]*mockEC2Client{"us-east-1": client})

	instances, err := s.ListInstances(context.Background(), "us-east-1")
	require.NoError(t, err)
	require.Len(t, instances, 2)

	assert.Equal(t, "i-123", instances[0].ID)
	assert.Equal(t, "t3.micro", instances[0].Type)
	assert.Equal(t, "running", instances[0].State)
	assert.Equal(t, launch, instances[0].LaunchTime)
	assert.Equal(t, resource.Tags{{Key: "Name", Value: "web"}, {Key: "Owner", Value: "alice"}}, instances[0].Tags)

	assert.Equal(t, "i-456", instances[1].ID)
	assert.Equal(t, "m5.large", instances[1].Type)
	assert.Empty(t, instances[1].Tags)
}

func TestListInstancesFiltered_PassesPredicates(t *testing.T) {
	var got []types.Filter
	client := &mockEC2Client{
		DescribeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			got = params.Filters
			return &ec2.DescribeInstancesOutput{}, nil
		},
	}
	s := testSession(t, Config{}, map[string]*mockEC2Client{"eu-central-1": client})

	_, err := s.ListInstancesFiltered(context.Background(), "eu-central-1", []resource.Predicate{
		{Name: "tag:Owner", Values: []string{"kguo"}},
		{Name: "instance-state-name", Values: []string{"running", "stopped"}},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tag:Owner", aws.ToString(got[0].Name))
	assert.Equal(t, []string{"kguo"}, got[0].Values)
	assert.Equal(t, "instance-state-name", aws.ToString(got[1].Name))
	assert.Equal(t, []string{"running", "stopped"}, got[1].Values)
}

func TestListInstances_FollowsPages(t *testing.T) {
	calls := 0
	client := &mockEC2Client{
		DescribeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			calls++
			if params.NextToken == nil {
				return &ec2.DescribeInstancesOutput{
					Reservations: []types.Reservation{{Instances: []types.Instance{{InstanceId: aws.String("i-1")}}}},
					NextToken:    aws.String("page-2"),
				}, nil
			}
			assert.Equal(t, "page-2", aws.ToString(params.NextToken))
			return &ec2.DescribeInstancesOutput{
				Reservations: []types.Reservation{{Instances: []types.Instance{{InstanceId: aws.String("i-2")}}}},
			}, nil
		},
	}
	s := testSession(t, Config{RequestsPerSecond: 100}, map[string]*mockEC2Client{"us-west-2": client})

	instances, err := s.ListInstances(context.Background(), "us-west-2")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, instances, 2)
	assert.Equal(t, "i-1", instances[0].ID)
	assert.Equal(t, "i-2", instances[1].ID)
}

func TestListInstances_WrapsProviderError(t *testing.T) {
	client := &mockEC2Client{
		DescribeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return nil, &smithyError{code: "UnauthorizedOperation"}
		},
	}
	s := testSession(t, Config{}, map[string]*mockEC2Client{"us-east-1": client})

	_, err := s.ListInstances(context.Background(), "us-east-1")
	require.Error(t, err)

	var perr *resource.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "us-east-1", perr.Region)
	assert.Equal(t, "DescribeInstances", perr.Op)
	assert.Equal(t, resource.ErrorKindAuthorization, perr.Kind)
}

func TestSession_CachesClientPerRegion(t *testing.T) {
	var mu sync.Mutex
	created := map[string]int{}
	s := newSession(Config{}, func(region string) EC2API {
		mu.Lock()
		defer mu.Unlock()
		created[region]++
		return &mockEC2Client{}
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ListInstances(context.Background(), "us-east-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := s.ListInstances(context.Background(), "us-east-2")
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"us-east-1": 1, "us-east-2": 1}, created)
}

func TestSession_ClosedRejectsCalls(t *testing.T) {
	s := testSession(t, Config{}, map[string]*mockEC2Client{"us-east-1": {}})

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.ListInstances(context.Background(), "us-east-1")
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = s.AccountID(context.Background(), "us-east-1")
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = s.S3("")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_S3Region(t *testing.T) {
	s := testSession(t, Config{}, map[string]*mockEC2Client{})

	client, err := s.S3("eu-central-1")
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", client.Options().Region)

	client, err = s.S3("")
	require.NoError(t, err)
	assert.Equal(t, defaultS3Region, client.Options().Region)
}

func TestSession_LimiterHonoursCancellation(t *testing.T) {
	s := testSession(t, Config{RequestsPerSecond: 1}, map[string]*mockEC2Client{"us-east-1": {}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ListInstances(ctx, "us-east-1")
	assert.Error(t, err)
}

func TestAccountID(t *testing.T) {
	client := &mockEC2Client{
		describeAccountAttrsFunc: func(ctx context.Context, params *ec2.DescribeAccountAttributesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAccountAttributesOutput, error) {
			return &ec2.DescribeAccountAttributesOutput{
				AccountAttributes: []types.AccountAttribute{
					{AttributeName: aws.String("max-instances"), AttributeValues: []types.AccountAttributeValue{{AttributeValue: aws.String("20")}}},
					{AttributeName: aws.String("account-id"), AttributeValues: []types.AccountAttributeValue{{AttributeValue: aws.String("123456789012")}}},
				},
			}, nil
		},
	}
	s := testSession(t, Config{}, map[string]*mockEC2Client{"us-east-1": client})

	id, err := s.AccountID(context.Background(), "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "123456789012", id)
}

func TestAccountID_Missing(t *testing.T) {
	s := testSession(t, Config{}, map[string]*mockEC2Client{"us-east-1": {}})

	id, err := s.AccountID(context.Background(), "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "unknown", id)
}
