package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translation-service/pkg/job"
)

func fixedLookup(ips ...string) func(ctx context.Context, host string) ([]net.IP, error) {
	return func(ctx context.Context, host string) ([]net.IP, error) {
		out := make([]net.IP, len(ips))
		for i, s := range ips {
			out[i] = net.ParseIP(s)
		}
		return out, nil
	}
}

func TestGuardRejectsDeniedLiterals(t *testing.T) {
	g := NewGuard(nil, nil)

	for _, target := range []string{
		"http://127.0.0.1/admin",
		"http://10.0.0.5/internal.pdf",
		"http://169.254.169.254/latest/meta-data/",
		"http://192.168.1.20/x",
		"http://172.16.0.1/x",
		"http://[::1]/x",
	} {
		t.Run(target, func(t *testing.T) {
			err := g.CheckURL(context.Background(), target)
			require.Error(t, err)
			var fe *job.FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, job.FetchUnsafe, fe.Kind)
		})
	}
}

func TestGuardRejectsHostnameResolvingToDeniedAddress(t *testing.T) {
	g := NewGuard(nil, nil)
	g.lookup = fixedLookup("93.184.216.34", "10.0.0.5")

	err := g.CheckURL(context.Background(), "https://evil.example.com/doc.pdf")
	require.Error(t, err)
	var fe *job.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, job.FetchUnsafe, fe.Kind)
}

func TestGuardAcceptsPublicHostname(t *testing.T) {
	g := NewGuard(nil, nil)
	g.lookup = fixedLookup("93.184.216.34")

	assert.NoError(t, g.CheckURL(context.Background(), "https://files.example.com/doc.pdf"))
}

func TestGuardAllowList(t *testing.T) {
	g := NewGuard([]string{"Files.Example.COM"}, nil)
	g.lookup = fixedLookup("93.184.216.34")

	// Allow-listed hostname resolving to a public address passes.
	assert.NoError(t, g.CheckURL(context.Background(), "https://files.example.com/doc.pdf"))

	// Anything off the list is rejected, even if otherwise safe.
	err := g.CheckURL(context.Background(), "https://other.example.com/doc.pdf")
	require.Error(t, err)
	var fe *job.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, job.FetchUnsafe, fe.Kind)

	// The deny-list still wins over the allow-list.
	g2 := NewGuard([]string{"files.example.com"}, nil)
	g2.lookup = fixedLookup("169.254.169.254")
	assert.Error(t, g2.CheckURL(context.Background(), "https://files.example.com/doc.pdf"))
}

func TestGuardUnresolvableHostname(t *testing.T) {
	g := NewGuard(nil, nil)
	g.lookup = func(ctx context.Context, host string) ([]net.IP, error) {
		return nil, fmt.Errorf("no such host")
	}

	err := g.CheckURL(context.Background(), "https://nope.invalid/doc.pdf")
	require.Error(t, err)
	var fe *job.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, job.FetchUnreachable, fe.Kind)
}
