// Package tlsutil loads the TLS material of a node and mints development
// certificates.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoCertificates is returned when a CA file holds no certificate.
var ErrNoCertificates = errors.New("tlsutil: no certificates found")

// KeyPair names a PEM certificate chain and private key on disk. Password
// decrypts a legacy encrypted PEM key when set.
type KeyPair struct {
	CertFile string
	KeyFile  string
	Password string
}

// Material is every TLS input a node needs.
type Material struct {
	CAFile           string
	ClientsListener  KeyPair
	SessionsListener KeyPair
	Session          KeyPair
}

// Configs are the ready-to-use TLS configurations of a node.
type Configs struct {
	// Clients serves end-user clients.
	Clients *tls.Config
	// Sessions serves peers dialing in.
	Sessions *tls.Config
	// Dial is used when this node dials a peer.
	Dial *tls.Config
}

// Load builds the node configurations from disk.
func Load(m Material) (*Configs, error) {
	pool, err := LoadPool(m.CAFile)
	if err != nil {
		return nil, err
	}
	clients, err := LoadKeyPair(m.ClientsListener)
	if err != nil {
		return nil, fmt.Errorf("clients listener: %w", err)
	}
	sessions, err := LoadKeyPair(m.SessionsListener)
	if err != nil {
		return nil, fmt.Errorf("sessions listener: %w", err)
	}
	session, err := LoadKeyPair(m.Session)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return NewConfigs(pool, clients, sessions, session), nil
}

// NewConfigs assembles the node configurations. Peers must present a
// certificate signed by pool on the sessions listener.
func NewConfigs(pool *x509.CertPool, clients, sessions, session tls.Certificate) *Configs {
	return &Configs{
		Clients: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{clients},
		},
		Sessions: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{sessions},
			ClientAuth:   tls.RequireAndVerifyClientCert,
			ClientCAs:    pool,
		},
		Dial: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{session},
			RootCAs:      pool,
		},
	}
}

// LoadPool reads a PEM bundle of CA certificates.
func LoadPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%s: %w", path, ErrNoCertificates)
	}
	return pool, nil
}

// LoadKeyPair reads a certificate chain and its key, decrypting the key
// with Password when it is encrypted.
func LoadKeyPair(pair KeyPair) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(pair.CertFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(pair.KeyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read private key: %w", err)
	}
	keyPEM, err = decryptKey(keyPEM, pair.Password)
	if err != nil {
		return tls.Certificate{}, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse key pair: %w", err)
	}
	return cert, nil
}

func decryptKey(keyPEM []byte, password string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	//nolint:staticcheck // legacy encrypted PEM
	if block == nil || !x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}
	if password == "" {
		return nil, errors.New("tlsutil: private key is encrypted and no password was given")
	}
	//nolint:staticcheck
	der, err := x509.DecryptPEMBlock(block, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("decrypt private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

// Development mints a CA and one node certificate in memory and returns
// configurations that trust each other. hosts defaults to loopback.
func Development(hosts ...string) (*Configs, *CA, error) {
	ca, err := GenerateCA("", 0)
	if err != nil {
		return nil, nil, err
	}
	issued, err := ca.IssueServer(hosts, "", 0)
	if err != nil {
		return nil, nil, err
	}
	cert, err := tls.X509KeyPair(issued.CertPEM, issued.KeyPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("parse issued pair: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(ca.Cert)
	return NewConfigs(pool, cert, cert, cert), ca, nil
}

// WriteDevelopment writes a CA and a node keypair into dir, using the file
// names Material defaults to.
func WriteDevelopment(dir string, hosts ...string) (Material, error) {
	ca, err := GenerateCA("", 0)
	if err != nil {
		return Material{}, err
	}
	issued, err := ca.IssueServer(hosts, "", 0)
	if err != nil {
		return Material{}, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Material{}, fmt.Errorf("create %s: %w", dir, err)
	}
	files := map[string][]byte{
		"ca.crt":   ca.CertPEM,
		"node.crt": issued.CertPEM,
		"node.key": issued.KeyPEM,
	}
	for name, data := range files {
		mode := os.FileMode(0o644)
		if filepath.Ext(name) == ".key" {
			mode = 0o600
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, mode); err != nil {
			return Material{}, fmt.Errorf("write %s: %w", name, err)
		}
	}
	pair := KeyPair{CertFile: filepath.Join(dir, "node.crt"), KeyFile: filepath.Join(dir, "node.key")}
	return Material{
		CAFile:           filepath.Join(dir, "ca.crt"),
		ClientsListener:  pair,
		SessionsListener: pair,
		Session:          pair,
	}, nil
}
