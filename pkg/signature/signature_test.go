package signature_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/dsign/pkg/signature"
)

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "timeout", signature.KindTimeout.String())
	assert.Equal(t, "backend-rejected", signature.KindBackendRejected.String())
	assert.Equal(t, "cancelled", signature.KindCancelled.String())
	assert.Equal(t, "unknown", signature.KindUnknown.String())
	assert.Equal(t, "unknown", signature.Kind(42).String())
}

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")

	assert.Equal(t, "timeout", (&signature.Error{Kind: signature.KindTimeout}).Error())
	assert.Equal(t, "unknown: boom", (&signature.Error{Err: base}).Error())
	assert.Equal(t, "backend-rejected: HTTP 403", (&signature.Error{Kind: signature.KindBackendRejected, Detail: "HTTP 403"}).Error())

	err := signature.Errorf(signature.KindBackendRejected, base, "sign %s", "a.exe")
	assert.Equal(t, "backend-rejected: sign a.exe: boom", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	live := context.Background()
	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	respErr := &azcore.ResponseError{StatusCode: http.StatusForbidden, ErrorCode: "Forbidden"}

	tests := []struct {
		name   string
		parent context.Context
		ctx    context.Context
		err    error
		want   signature.Kind
		detail string
	}{
		{"plain error", live, live, errors.New("disk on fire"), signature.KindUnknown, ""},
		{"typed error kept", live, live, &signature.Error{Kind: signature.KindBackendRejected, Detail: "nope"}, signature.KindBackendRejected, "nope"},
		{"wrapped typed error", live, live, fmt.Errorf("wrap: %w", &signature.Error{Kind: signature.KindTimeout}), signature.KindTimeout, ""},
		{"azure response error", live, live, fmt.Errorf("sign: %w", respErr), signature.KindBackendRejected, "HTTP 403 Forbidden"},
		{"deadline error without ctx state", live, live, context.DeadlineExceeded, signature.KindTimeout, ""},
		{"canceled error without ctx state", live, live, context.Canceled, signature.KindCancelled, ""},
		{"per-file deadline wins", live, expired, errors.New("whatever"), signature.KindTimeout, "signing exceeded the per-file timeout"},
		{"run cancellation wins", cancelled, cancelled, &signature.Error{Kind: signature.KindUnknown}, signature.KindCancelled, "run cancelled"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := signature.Classify(tt.parent, tt.ctx, tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, got.Detail)
			}
		})
	}

	assert.Nil(t, signature.Classify(live, live, nil))
}

func TestProviderFuncContract(t *testing.T) {
	signature.RunContractTests(t, signature.ContractTest{
		CreateProvider: func(t *testing.T) signature.Provider {
			return signature.ProviderFunc(func(ctx context.Context, path string, _ azcore.TokenCredential) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				_, err := os.Stat(path)
				return err
			})
		},
	})
}

func TestRunIDContext(t *testing.T) {
	assert.Equal(t, "", signature.RunID(context.Background()))

	ctx := signature.WithRunID(context.Background(), "run-42")
	assert.Equal(t, "run-42", signature.RunID(ctx))
}
