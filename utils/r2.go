// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"

	"skills-studio/config"
)

// ProofSnapshot is the archived record of an ambassador's social proof.
type ProofSnapshot struct {
	AmbassadorID string    `json:"ambassador_id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Links        []string  `json:"links"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// ProofArchive writes proof snapshots to a Cloudflare R2 bucket.
type ProofArchive struct {
	client     *s3.Client
	bucket     string
	cdnBaseURL string
}

// NewProofArchive returns nil, nil when R2 is not configured.
func NewProofArchive(ctx context.Context, cfg config.R2Config) (*ProofArchive, error) {
	if cfg.AccountID == "" || cfg.Bucket == "" {
		return nil, nil
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	cdn := strings.TrimRight(cfg.CDNBaseURL, "/")
	if cdn == "" {
		cdn = endpoint + "/" + cfg.Bucket
	}

	return &ProofArchive{
		client: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		}),
		bucket:     cfg.Bucket,
		cdnBaseURL: cdn,
	}, nil
}

// ProofObjectKey builds the object key for a snapshot, e.g.
// "ambassador-proofs/<id>/jane-doe-1700000000.json".
func ProofObjectKey(snap ProofSnapshot) string {
	name := snap.Email
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	s := slug.Make(name)
	if s == "" {
		s = "ambassador"
	}
	return fmt.Sprintf("ambassador-proofs/%s/%s-%d.json", snap.AmbassadorID, s, snap.SubmittedAt.Unix())
}

// Archive uploads snap as JSON and returns its public URL.
func (a *ProofArchive) Archive(ctx context.Context, snap ProofSnapshot) (string, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode proof snapshot: %w", err)
	}

	key := ProofObjectKey(snap)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return fmt.Sprintf("%s/%s", a.cdnBaseURL, key), nil
}
