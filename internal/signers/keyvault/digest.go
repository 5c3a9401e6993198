package keyvault

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
)

// Digest names the file digest algorithm.
type Digest string

const (
	SHA256 Digest = "sha256"
	SHA384 Digest = "sha384"
	SHA512 Digest = "sha512"
)

// ParseDigest accepts sha256, sha384 or sha512 in any case. Empty means sha256.
func ParseDigest(s string) (Digest, error) {
	switch d := Digest(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return SHA256, nil
	case SHA256, SHA384, SHA512:
		return d, nil
	default:
		return "", fmt.Errorf("unsupported file digest %q (use sha256, sha384 or sha512)", s)
	}
}

func (d Digest) newHash() hash.Hash {
	switch d {
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	default:
		return sha256.New()
	}
}

// algorithm picks the Key Vault signature algorithm for this digest and key.
// EC keys must use the digest size that matches their curve.
func (d Digest) algorithm(key keyInfo) (azkeys.SignatureAlgorithm, error) {
	switch key.family {
	case familyRSA:
		switch d {
		case SHA384:
			return azkeys.SignatureAlgorithmRS384, nil
		case SHA512:
			return azkeys.SignatureAlgorithmRS512, nil
		default:
			return azkeys.SignatureAlgorithmRS256, nil
		}
	case familyEC:
		want := map[string]Digest{"P-256": SHA256, "P-384": SHA384, "P-521": SHA512}[key.curve]
		if want != "" && want != d {
			return "", fmt.Errorf("file digest %s does not match EC curve %s (use %s)", d, key.curve, want)
		}
		switch d {
		case SHA384:
			return azkeys.SignatureAlgorithmES384, nil
		case SHA512:
			return azkeys.SignatureAlgorithmES512, nil
		default:
			return azkeys.SignatureAlgorithmES256, nil
		}
	default:
		return "", fmt.Errorf("unsupported certificate key type")
	}
}

// hashFile streams the file through the digest, stopping early if ctx ends.
func hashFile(ctx context.Context, path string, d Digest) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := d.newHash()
	if _, err := io.Copy(h, ctxReader{ctx: ctx, r: f}); err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
