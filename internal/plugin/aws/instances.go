package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

// ListInstances returns every instance in region.
func (s *Session) ListInstances(ctx context.Context, region string) ([]resource.Instance, error) {
	return s.describeInstances(ctx, region, nil)
}

// ListInstancesFiltered returns the instances in region matching all
// predicates. Predicates are handed to EC2 as-is.
func (s *Session) ListInstancesFiltered(ctx context.Context, region string, predicates []resource.Predicate) ([]resource.Instance, error) {
	return s.describeInstances(ctx, region, toEC2Filters(predicates))
}

func (s *Session) describeInstances(ctx context.Context, region string, filters []ec2types.Filter) ([]resource.Instance, error) {
	client, err := s.client(region)
	if err != nil {
		return nil, err
	}

	var instances []resource.Instance
	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{Filters: filters})

	for paginator.HasMorePages() {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}

		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, newProviderError(region, "DescribeInstances", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				instances = append(instances, convertInstance(instance))
			}
		}
	}

	return instances, nil
}

func toEC2Filters(predicates []resource.Predicate) []ec2types.Filter {
	if len(predicates) == 0 {
		return nil
	}
	filters := make([]ec2types.Filter, 0, len(predicates))
	for _, p := range predicates {
		filters = append(filters, ec2types.Filter{
			Name:   aws.String(p.Name),
			Values: p.Values,
		})
	}
	return filters
}

func convertInstance(instance ec2types.Instance) resource.Instance {
	inst := resource.Instance{
		ID:   aws.ToString(instance.InstanceId),
		Type: string(instance.InstanceType),
	}
	if instance.State != nil {
		inst.State = string(instance.State.Name)
	}
	if instance.LaunchTime != nil {
		inst.LaunchTime = *instance.LaunchTime
	}
	if len(instance.Tags) > 0 {
		inst.Tags = make(resource.Tags, 0, len(instance.Tags))
		for _, tag := range instance.Tags {
			inst.Tags = append(inst.Tags, resource.Tag{
				Key:   aws.ToString(tag.Key),
				Value: aws.ToString(tag.Value),
			})
		}
	}
	return inst
}
