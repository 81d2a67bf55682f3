package commands

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/florianilch/agprobe/internal/app"
	"github.com/florianilch/agprobe/internal/locator"
)

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "*****"},
		{"12345678", "********"},
		{"ya29.a0AfH6SMBx", "ya29*******SMBx"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, maskToken(tt.in))
		})
	}
}

func TestCredentialView(t *testing.T) {
	expiry := time.Date(2026, 10, 17, 13, 0, 0, 0, time.UTC)
	tok := &oauth2.Token{AccessToken: "ya29.a0AfH6SMBx", TokenType: "Bearer", Expiry: expiry}

	masked := newCredentialView(tok, false)
	assert.Equal(t, "ya29*******SMBx", masked.AccessToken)
	assert.True(t, masked.Masked)
	assert.Equal(t, "Bearer", masked.TokenType)
	assert.Equal(t, expiry, masked.Expiry)

	revealed := newCredentialView(tok, true)
	assert.Equal(t, "ya29.a0AfH6SMBx", revealed.AccessToken)
	assert.False(t, revealed.Masked)

	assert.Nil(t, newCredentialView(nil, true))
}

func TestWriteReport(t *testing.T) {
	report := &app.Report{
		Environment: &locator.ScanResult{ExtensionPort: 53100, ConnectPort: 53101, CSRFToken: "abc-123"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, newReportView(report, false)))

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")), "non-terminal output is compact")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Nil(t, decoded["credentials"])
	env := decoded["environment"].(map[string]any)
	assert.EqualValues(t, 53101, env["connect_port"])
	assert.Equal(t, "abc-123", env["csrf_token"])
}
