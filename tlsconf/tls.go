// Package tlsconf turns the JSON TLS policy shared by secured listeners into a *tls.Config.
// It relies on the presence of an openssl executable to parse OpenSSL cipher strings
// - if you use Cipher Format "openssl"
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// To parse the output of "openssl ciphers -V" to get IANA codes for an OpenSSL cipher spec.
// Lines look like:
//   0x00,0x3C - AES128-SHA256           TLSv1.2 Kx=RSA      Au=RSA  Enc=AES(128)  Mac=SHA256
var openSSLCipherlineRe = regexp.MustCompile(`(?m)^\s+0x([[:xdigit:]]{2}),0x([[:xdigit:]]{2}) - [-\w]+\s+(TLS|SSLv3)`)

// CipherConfig specifies a group of TLS ciphers and the format of the cipher specification
// Available formats are:
// "hex": A string with space separated 16-bit hexadecimal numbers
// "openssl": An OpenSSL cipherstring (requires an openssl binary present)
type CipherConfig struct {
	Format  string
	Ciphers string
}

// TLSServerConfig holds the TLS policy for servers. Certificates are not part
// of it; they come from each listener's credential.
type TLSServerConfig struct {
	CipherSuites   *CipherConfig     `json:",omitempty"`
	ClientCAs      map[string]string `json:",omitempty"`
	ClientAuthType string            `json:",omitempty"`
	MinVersion     string            `json:",omitempty"`
	MaxVersion     string            `json:",omitempty"`
}

// Translate strings to Go TLS version constants
func versionStrings2versions(strmin, strmax string) (vmin, vmax uint16, err error) {
	vmin, err = versionString2version(strmin)
	if err != nil {
		return
	}
	vmax, err = versionString2version(strmax)
	return
}

func versionString2version(str string) (v uint16, err error) {
	switch str {
	case "":
		v = 0
	case "TLSv10":
		v = tls.VersionTLS10
	case "TLSv11":
		v = tls.VersionTLS11
	case "TLSv12":
		v = tls.VersionTLS12
	case "TLSv13":
		v = tls.VersionTLS13
	default:
		err = fmt.Errorf("Unknown TLS version. Not in ( TLSv1[0123] ): %s", str)
	}
	return
}

func clientAuth(str string) (t tls.ClientAuthType, err error) {
	switch str {
	case "", "NoClientCert":
		t = tls.NoClientCert
	case "RequestClientCert":
		t = tls.RequestClientCert
	case "RequireAnyClientCert":
		t = tls.RequireAnyClientCert
	case "VerifyClientCertIfGiven":
		t = tls.VerifyClientCertIfGiven
	case "RequireAndVerifyClientCert":
		t = tls.RequireAndVerifyClientCert
	default:
		err = fmt.Errorf("Invalid ClientAuthType: %s (See Go tls docs)", str)
	}
	return
}

// GetTLSServerConfig creates a tls.Config serving the given certificates
// under the policy in cfg. A nil cfg yields the Go defaults.
func GetTLSServerConfig(cfg *TLSServerConfig, certs ...tls.Certificate) (tlsConf *tls.Config, err error) {
	if cfg == nil {
		return &tls.Config{Certificates: certs}, nil
	}

	min, max, err := versionStrings2versions(cfg.MinVersion, cfg.MaxVersion)
	if err != nil {
		return
	}

	var ciphers []uint16
	if cfg.CipherSuites != nil {
		ciphers, err = getCiphers(cfg.CipherSuites)
		if err != nil {
			return
		}
	}

	var clientCaPool *x509.CertPool
	if len(cfg.ClientCAs) > 0 {
		clientCaPool, err = getCaPool(cfg.ClientCAs)
		if err != nil {
			return
		}
	}

	authType, err := clientAuth(cfg.ClientAuthType)
	if err != nil {
		return
	}

	tlsConf = &tls.Config{
		MinVersion:   min,
		MaxVersion:   max,
		CipherSuites: ciphers,
		Certificates: certs,
		ClientCAs:    clientCaPool,
		ClientAuth:   authType,
	}
	return
}

func getCaPool(caFiles map[string]string) (*x509.CertPool, error) {
	caPool := x509.NewCertPool()
	for name, caFile := range caFiles {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read CA file %s for %s", caFile, name)
		}
		if !caPool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("unable to load certs from PEM file %s for CA %s", caFile, name)
		}
	}
	return caPool, nil
}

func getCiphers(cfg *CipherConfig) (ciphers []uint16, err error) {

	switch cfg.Format {
	case "openssl":
		// TODO: ... full path for openssl binary?
		output, e := exec.Command("openssl", "ciphers", "-V", cfg.Ciphers).Output()
		if e != nil {
			err = errors.Wrap(e, "running openssl ciphers")
			return
		}
		matches := openSSLCipherlineRe.FindAllSubmatch(output, -1)
		if matches == nil {
			err = fmt.Errorf("CipherSpec %s resulted in no ciphers", cfg.Ciphers)
			return
		}
		for _, match := range matches {
			// already regexp checked to be hex
			cipher, _ := strconv.ParseUint(string(match[1])+string(match[2]), 16, 16)
			ciphers = append(ciphers, uint16(cipher))
		}
	case "hex":
		// space separated hex values (no leading "0x")
		for _, str := range strings.Fields(cfg.Ciphers) {
			c, e := strconv.ParseUint(str, 16, 16)
			if e != nil {
				err = errors.Wrapf(e, "invalid cipher %q", str)
				return
			}
			ciphers = append(ciphers, uint16(c))
		}
		if len(ciphers) == 0 {
			err = errors.New("empty hex cipher list")
		}
	default:
		err = fmt.Errorf("Invalid TLS Cipher spec: %s", cfg.Format)
	}

	return
}
