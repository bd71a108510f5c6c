package aws

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// MockedKeyID short-circuits decryption for local runs.
const MockedKeyID = "MOCKED_KEY_ID"

type KMSDecryptAPI interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type KMSClient struct {
	Client KMSDecryptAPI
}

func NewKMSClient(cfg aws.Config) *KMSClient {
	return &KMSClient{Client: kms.NewFromConfig(cfg)}
}

// Decrypt decodes a base64 ciphertext and decrypts it with keyId.
func (c *KMSClient) Decrypt(ctx context.Context, keyId, encodedEncryptedStr string) (string, error) {
	if encodedEncryptedStr == "" {
		return "", nil
	}

	if keyId == MockedKeyID {
		return encodedEncryptedStr, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(encodedEncryptedStr)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	out, err := c.Client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: decoded,
		KeyId:          aws.String(keyId),
	})
	if err != nil {
		return "", fmt.Errorf("kms decrypt failed: %w", err)
	}

	return string(out.Plaintext), nil
}
