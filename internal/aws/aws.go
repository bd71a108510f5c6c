package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
)

type AWSClient struct {
	KMS *KMSClient
}

func NewAWSClient(ctx context.Context) (*AWSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return &AWSClient{
		KMS: NewKMSClient(cfg),
	}, nil
}
