package mqtt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benmeehan/debloat-agent/pkg/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_BadCACertificate(t *testing.T) {
	dir := t.TempDir()
	s := NewMqttService(file.NewFileService())

	err := s.Initialize(Options{Broker: "ssl://localhost:8883", CACertificate: filepath.Join(dir, "missing.pem")})
	assert.ErrorContains(t, err, "failed to read CA certificate")

	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	err = s.Initialize(Options{Broker: "ssl://localhost:8883", CACertificate: bad})
	assert.EqualError(t, err, "failed to append CA certificate")
}

func TestInitialize_BrokerUnreachable(t *testing.T) {
	s := NewMqttService(file.NewFileService())
	err := s.Initialize(Options{Broker: "tcp://127.0.0.1:1", ClientID: "test", ConnectWait: 3 * time.Second})
	assert.Error(t, err)
}
