package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"

	"laneassist/internal/config"
)

type fakeAPI struct {
	values map[string]string
	err    error
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[*in.Name]
	if !ok {
		msg := "missing"
		return nil, &types.ParameterNotFound{Message: &msg}
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: &v}}, nil
}

func TestGetParameter(t *testing.T) {
	client, err := New(&fakeAPI{values: map[string]string{"/app/x": "secret"}})
	require.NoError(t, err)

	v, err := client.GetParameter(context.Background(), "/app/x")
	require.NoError(t, err)
	require.Equal(t, "secret", v)

	_, err = client.GetParameter(context.Background(), "/app/y")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = client.GetParameter(context.Background(), " ")
	require.ErrorContains(t, err, "required")
}

func TestGetParameterAPIError(t *testing.T) {
	client, err := New(&fakeAPI{err: errors.New("boom")})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestNewNilAPI(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")
}

func TestApplyFillsEmptyFields(t *testing.T) {
	client, err := New(&fakeAPI{values: map[string]string{
		"/laneassist/whatsapp/access_token":    "token-from-ssm",
		"/laneassist/whatsapp/app_secret":      "should-not-win",
		"/laneassist/providers/openai/api_key": "sk-ssm",
		"/laneassist/payments/mpesa_paybill":   "999000",
		"/laneassist/payments/airtel_paybill":  "should-not-win",
		"/laneassist/payments/tkash_paybill":   "777000",
	}})
	require.NoError(t, err)

	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{"openai": {Model: "gpt-4o-mini"}},
		WhatsApp:  config.WhatsAppConfig{AppSecret: "local"},
		Payments:  config.PaymentConfig{AirtelPaybill: "555000"},
	}
	require.NoError(t, Apply(context.Background(), client, "/laneassist/", cfg))

	require.Equal(t, "token-from-ssm", cfg.WhatsApp.AccessToken)
	require.Equal(t, "local", cfg.WhatsApp.AppSecret)
	require.Equal(t, "sk-ssm", cfg.Providers["openai"].APIKey)
	require.Equal(t, "999000", cfg.Payments.MpesaPaybill)
	require.Equal(t, "555000", cfg.Payments.AirtelPaybill)
	require.Equal(t, "777000", cfg.Payments.TkashPaybill)
	require.Empty(t, cfg.Neo4j.Password)
}
