package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"laneassist/internal/config"
)

// ssmAPI is the subset of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter fetches a single decrypted parameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ErrNotFound reports a parameter that does not exist in the store.
var ErrNotFound = errors.New("secrets: parameter not found")

type Client struct {
	api ssmAPI
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("secrets: api must not be nil")
	}
	return &Client{api: api}, nil
}

// NewFromEnvironment builds a client from the default AWS credential chain.
func NewFromEnvironment(ctx context.Context) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return New(ssm.NewFromConfig(awsCfg))
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c == nil || c.api == nil {
		return "", errors.New("secrets: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("secrets: parameter missing value")
	}
	return aws.ToString(out.Parameter.Value), nil
}

// Apply fills credential fields of cfg that are still empty from parameters
// stored under prefix. Missing parameters are skipped.
func Apply(ctx context.Context, g Getter, prefix string, cfg *config.Config) error {
	if g == nil || cfg == nil {
		return errors.New("secrets: getter and config required")
	}
	prefix = strings.TrimRight(prefix, "/")

	targets := map[string]*string{
		"whatsapp/access_token":   &cfg.WhatsApp.AccessToken,
		"whatsapp/app_secret":     &cfg.WhatsApp.AppSecret,
		"whatsapp/verify_token":   &cfg.WhatsApp.VerifyToken,
		"neo4j/password":          &cfg.Neo4j.Password,
		"qdrant/api_key":          &cfg.Qdrant.APIKey,
		"search/google_api_key":   &cfg.Search.GoogleAPIKey,
		"redis/password":          &cfg.Redis.Password,
		"payments/mpesa_paybill":  &cfg.Payments.MpesaPaybill,
		"payments/airtel_paybill": &cfg.Payments.AirtelPaybill,
		"payments/tkash_paybill":  &cfg.Payments.TkashPaybill,
	}
	for name, p := range cfg.Providers {
		if p.APIKey != "" {
			continue
		}
		value, err := lookup(ctx, g, prefix+"/providers/"+name+"/api_key")
		if err != nil {
			return err
		}
		if value != "" {
			p.APIKey = value
			cfg.Providers[name] = p
		}
	}
	for suffix, dst := range targets {
		if *dst != "" {
			continue
		}
		value, err := lookup(ctx, g, prefix+"/"+suffix)
		if err != nil {
			return err
		}
		if value != "" {
			*dst = value
		}
	}
	return nil
}

func lookup(ctx context.Context, g Getter, name string) (string, error) {
	value, err := g.GetParameter(ctx, name)
	if errors.Is(err, ErrNotFound) {
		slog.Debug("parameter not set", "name", name)
		return "", nil
	}
	return value, err
}
