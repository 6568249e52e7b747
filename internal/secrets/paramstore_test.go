package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	out  *ssm.GetParameterOutput
	err  error
	last *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.last = in
	return f.out, f.err
}

func TestGetParameter_DecryptsAndReturnsValue(t *testing.T) {
	api := &fakeSSM{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String("sk-test")}}}
	ps, err := New(api)
	require.NoError(t, err)

	v, err := ps.GetParameter(context.Background(), " /sdr/openai ")
	require.NoError(t, err)
	require.Equal(t, "sk-test", v)
	require.Equal(t, "/sdr/openai", aws.ToString(api.last.Name))
	require.True(t, aws.ToBool(api.last.WithDecryption))
}

func TestGetParameter_Errors(t *testing.T) {
	ps, err := New(&fakeSSM{err: errors.New("throttled")})
	require.NoError(t, err)
	_, err = ps.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "throttled")

	ps, _ = New(&fakeSSM{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{}}})
	_, err = ps.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "no value")

	_, err = ps.GetParameter(context.Background(), " ")
	require.ErrorContains(t, err, "required")

	_, err = (&ParamStore{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestStatic(t *testing.T) {
	v, err := Static("k").GetParameter(context.Background(), "anything")
	require.NoError(t, err)
	require.Equal(t, "k", v)

	_, err = Static("").GetParameter(context.Background(), "x")
	require.Error(t, err)
}
