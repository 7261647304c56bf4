package storage

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/services/storage/aws_client"
)

// NewStorageServiceFromConfig uses R2 when an account id is configured, plain S3 otherwise.
func NewStorageServiceFromConfig(cfg *config.StorageConfig) interfaces.StorageService {
	if cfg.R2AccountID != "" {
		return NewR2StorageService(cfg.R2AccountID, cfg.AccessKeyID, cfg.AccessKeySecret, cfg.AttachmentBucket, cfg.PublicURL)
	}
	return NewS3StorageService(cfg.Region, cfg.AccessKeyID, cfg.AccessKeySecret, cfg.AttachmentBucket, cfg.PublicURL)
}

func NewS3StorageService(awsRegion, accessKeyID, accessKeySecret, bucketName, publicURL string) interfaces.StorageService {
	s3Client := aws_client.NewS3Client(&aws.Config{
		Region:      aws.String(awsRegion),
		Credentials: credentials.NewStaticCredentials(accessKeyID, accessKeySecret, ""),
	})

	return NewStorageService(s3Client, StorageConfig{
		BucketName: bucketName,
		PublicURL:  publicURL,
	})
}

func NewR2StorageService(accountID, accessKeyID, accessKeySecret, bucketName, publicURL string) interfaces.StorageService {
	r2Client := aws_client.NewS3Client(&aws.Config{
		Endpoint:         aws.String("https://" + accountID + ".r2.cloudflarestorage.com"),
		Region:           aws.String("auto"),
		Credentials:      credentials.NewStaticCredentials(accessKeyID, accessKeySecret, ""),
		S3ForcePathStyle: aws.Bool(true),
	})

	return NewStorageService(r2Client, StorageConfig{
		BucketName: bucketName,
		PublicURL:  publicURL,
	})
}
