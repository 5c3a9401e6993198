package keyvault

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// EnvelopeSuffix is appended to the signed file's path.
const EnvelopeSuffix = ".sig.json"

// Envelope is the detached signature written next to each signed file.
type Envelope struct {
	Version               int       `json:"version"`
	RunID                 string    `json:"run_id,omitempty"`
	File                  string    `json:"file"`
	DigestAlgorithm       Digest    `json:"digest_algorithm"`
	Digest                string    `json:"digest"`
	SignatureAlgorithm    string    `json:"signature_algorithm"`
	Signature             string    `json:"signature"`
	KeyID                 string    `json:"key_id"`
	Certificate           string    `json:"certificate"`
	CertificateThumbprint string    `json:"certificate_thumbprint"`
	Description           string    `json:"description,omitempty"`
	DescriptionURL        string    `json:"description_url,omitempty"`
	SignedAt              time.Time `json:"signed_at"`
}

// EnvelopePath returns where the envelope for path is written.
func EnvelopePath(path string) string {
	return path + EnvelopeSuffix
}

// ReadEnvelope loads an envelope from disk.
func ReadEnvelope(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid signature envelope %s: %w", path, err)
	}
	return &env, nil
}

// Verify checks the signature against the embedded certificate and digest.
func (e *Envelope) Verify() error {
	der, err := base64.StdEncoding.DecodeString(e.Certificate)
	if err != nil {
		return fmt.Errorf("invalid certificate encoding: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("invalid certificate: %w", err)
	}
	digest, err := hex.DecodeString(e.Digest)
	if err != nil {
		return fmt.Errorf("invalid digest encoding: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	return verifySignature(cert, e.DigestAlgorithm, digest, sig)
}

func verifySignature(cert *x509.Certificate, d Digest, digest, sig []byte) error {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(pub, d.cryptoHash(), digest, sig)
	case *ecdsa.PublicKey:
		// Key Vault returns the raw r||s form.
		if len(sig) == 0 || len(sig)%2 != 0 {
			return errors.New("malformed ECDSA signature")
		}
		half := len(sig) / 2
		r := new(big.Int).SetBytes(sig[:half])
		s := new(big.Int).SetBytes(sig[half:])
		if !ecdsa.Verify(pub, digest, r, s) {
			return errors.New("ECDSA signature verification failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T", cert.PublicKey)
	}
}

func (d Digest) cryptoHash() crypto.Hash {
	switch d {
	case SHA384:
		return crypto.SHA384
	case SHA512:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

// writeEnvelope writes env to path via a temp file and rename, so readers
// never see a partial envelope.
func writeEnvelope(path string, env Envelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode signature envelope: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".dsign-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write signature envelope: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write signature envelope: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write signature envelope: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write signature envelope: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
