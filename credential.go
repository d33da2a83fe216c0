package frontdoor

import (
	"bytes"
	"crypto/tls"
	"encoding/pem"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pkcs12"

	"github.com/One-com/frontdoor/config"
)

// Credential is the TLS material for one secured instance: either a single
// bundle or a key and certificate pair.
type Credential struct {
	Bundle     []byte
	Passphrase string

	Key  []byte
	Cert []byte
}

// IsBundle tells whether the credential came from a single bundle file.
func (c *Credential) IsBundle() bool {
	return c.Bundle != nil
}

// Certificate parses the credential into a certificate usable by a TLS listener.
// A bundle may be PEM (key and certificate blocks in one file) or PKCS#12.
func (c *Credential) Certificate() (cert tls.Certificate, err error) {
	if !c.IsBundle() {
		return tls.X509KeyPair(c.Cert, c.Key)
	}

	if bytes.Contains(c.Bundle, []byte("-----BEGIN")) {
		return tls.X509KeyPair(c.Bundle, c.Bundle)
	}

	blocks, err := pkcs12.ToPEM(c.Bundle, c.Passphrase)
	if err != nil {
		err = errors.Wrap(err, "decoding PKCS#12 bundle")
		return
	}
	var pemData []byte
	for _, b := range blocks {
		pemData = append(pemData, pem.EncodeToMemory(b)...)
	}
	return tls.X509KeyPair(pemData, pemData)
}

// LoadCredential reads the TLS material named by inst.
// A bundle takes precedence; otherwise both key and certificate are required.
// Paths are relative to the working directory. Nothing is cached.
func LoadCredential(inst config.InstanceConfig) (*Credential, error) {
	fail := func(err error) (*Credential, error) {
		return nil, &CredentialError{Instance: inst.URL(), Err: err}
	}

	if inst.BundlePath != "" {
		data, err := os.ReadFile(inst.BundlePath)
		if err != nil {
			return fail(errors.Wrap(err, "reading bundle"))
		}
		return &Credential{Bundle: data, Passphrase: inst.Passphrase}, nil
	}

	switch {
	case inst.KeyPath == "" && inst.CertPath == "":
		return fail(errors.New("no bundle and no key/certificate pair configured"))
	case inst.KeyPath == "":
		return fail(errors.New("certificate given without key"))
	case inst.CertPath == "":
		return fail(errors.New("key given without certificate"))
	}

	key, err := os.ReadFile(inst.KeyPath)
	if err != nil {
		return fail(errors.Wrap(err, "reading key"))
	}
	cert, err := os.ReadFile(inst.CertPath)
	if err != nil {
		return fail(errors.Wrap(err, "reading certificate"))
	}
	return &Credential{Key: key, Cert: cert}, nil
}
