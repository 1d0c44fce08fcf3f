package mail

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// Authorize returns an HTTP client authorised for Gmail modify access.
// A cached token in tokenFile is reused; otherwise the installed-app flow
// prints a consent URL to out, reads the code from in and caches the token.
func Authorize(ctx context.Context, credentialsFile, tokenFile string, in io.Reader, out io.Writer) (*http.Client, error) {
	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(creds, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	tok, err := loadToken(tokenFile)
	if errors.Is(err, fs.ErrNotExist) {
		tok, err = exchange(ctx, cfg, in, out)
		if err != nil {
			return nil, err
		}
		if err := saveToken(tokenFile, tok); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return cfg.Client(ctx, tok), nil
}

func exchange(ctx context.Context, cfg *oauth2.Config, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	url := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Open the following link in your browser and paste the authorization code:\n%s\n> ", url)

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("empty authorization code")
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tok, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decoding token %s: %w", path, err)
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}
