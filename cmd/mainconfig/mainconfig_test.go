package mainconfig

import (
	"context"
	"testing"

	appconfig "github.com/wolfman30/telehealth-booking/internal/config"
)

func TestLoadAWSConfigStaticCredentials(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := &appconfig.Config{
		AWSRegion:           "us-west-2",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if awsCfg.Region != "us-west-2" {
		t.Fatalf("expected region us-west-2, got %s", awsCfg.Region)
	}
	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("retrieve credentials: %v", err)
	}
	if creds.AccessKeyID != "test" {
		t.Fatalf("expected static credentials, got %s", creds.AccessKeyID)
	}
	if awsCfg.EndpointResolverWithOptions == nil {
		t.Fatalf("expected endpoint override resolver")
	}
}

func TestAWSNeeded(t *testing.T) {
	if AWSNeeded(&appconfig.Config{EmailProvider: "stub"}) {
		t.Fatalf("expected AWS to be unnecessary")
	}
	if !AWSNeeded(&appconfig.Config{EventsQueueURL: "http://localhost:4566/000000000000/events"}) {
		t.Fatalf("expected AWS for SQS forwarding")
	}
	if !AWSNeeded(&appconfig.Config{EmailProvider: "ses"}) {
		t.Fatalf("expected AWS for SES")
	}
}
