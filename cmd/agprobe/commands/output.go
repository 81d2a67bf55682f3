package commands

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/term"

	"github.com/florianilch/agprobe/internal/app"
	"github.com/florianilch/agprobe/internal/locator"
)

// visibleTokenChars is how many characters of a masked token stay visible at each end.
const visibleTokenChars = 4

type credentialView struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Expiry      time.Time `json:"expiry"`
	Masked      bool      `json:"masked,omitempty"`
}

func newCredentialView(tok *oauth2.Token, reveal bool) *credentialView {
	if tok == nil {
		return nil
	}
	view := &credentialView{
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
		Expiry:      tok.Expiry,
	}
	if !reveal {
		view.AccessToken = maskToken(tok.AccessToken)
		view.Masked = true
	}
	return view
}

type reportView struct {
	Environment *locator.ScanResult `json:"environment"`
	Credentials *credentialView     `json:"credentials"`
}

func newReportView(report *app.Report, reveal bool) reportView {
	return reportView{
		Environment: report.Environment,
		Credentials: newCredentialView(report.Credentials, reveal),
	}
}

// maskToken keeps both ends of a token and hides the rest.
func maskToken(token string) string {
	if len(token) <= 2*visibleTokenChars {
		return strings.Repeat("*", len(token))
	}
	return token[:visibleTokenChars] + strings.Repeat("*", len(token)-2*visibleTokenChars) + token[len(token)-visibleTokenChars:]
}

// writeJSON encodes v to w, indented when w is a terminal.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
