// Command oauth-init runs the installed-app OAuth flow once and stores the
// token finlux-mirror uses to write the spreadsheet.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/sheets/v4"

	"finlux/internal/cli"
	"finlux/internal/log"
)

func main() {
	cfg := cli.LoadConfig()
	logger := cli.SetupLogger(os.Stderr, cfg.LogLevel, log.ComponentSheets)

	var b []byte
	var err error
	switch {
	case cfg.GoogleOAuthClientJSON != "":
		b = []byte(cfg.GoogleOAuthClientJSON)
	case cfg.GoogleOAuthClientFile != "":
		b, err = os.ReadFile(cfg.GoogleOAuthClientFile)
		if err != nil {
			fatal(logger, "read client file", err)
		}
	default:
		fatal(logger, "set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE", nil)
	}

	oauthCfg, err := google.ConfigFromJSON(b, sheets.SpreadsheetsScope)
	if err != nil {
		fatal(logger, "oauth config", err)
	}

	// The OAuth client must list http://localhost:<port>/callback as an
	// authorized redirect URI.
	redirectPort := os.Getenv("OAUTH_REDIRECT_PORT")
	if redirectPort == "" {
		redirectPort = "8085"
	}
	oauthCfg.RedirectURL = "http://localhost:" + redirectPort + "/callback"

	state := uuid.NewString()
	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	srv := &http.Server{Addr: ":" + redirectPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errStr := q.Get("error"); errStr != "" {
			http.Error(w, "OAuth error: "+errStr, http.StatusBadRequest)
			return
		}
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "You may close this window and return to the terminal.")
		select {
		case codeCh <- q.Get("code"):
		default:
		}
		go func() { time.Sleep(500 * time.Millisecond); _ = srv.Close() }()
	})
	go func() { _ = srv.ListenAndServe() }()

	url := oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Printf("Open this URL to authorize:\n%s\n", url)

	select {
	case code := <-codeCh:
		tok, err := oauthCfg.Exchange(context.Background(), code)
		if err != nil {
			fatal(logger, "token exchange", err)
		}
		outFile := cfg.GoogleOAuthTokenFile
		if outFile == "" {
			outFile = "token.json"
		}
		f, err := os.OpenFile(outFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
		if err != nil {
			fatal(logger, "open token file", err)
		}
		defer f.Close()
		if err := json.NewEncoder(f).Encode(tok); err != nil {
			fatal(logger, "write token", err)
		}
		logger.Info("Saved OAuth token", "path", outFile)
	case <-time.After(5 * time.Minute):
		fatal(logger, "authorization timed out", nil)
	case <-signalChan():
		fatal(logger, "interrupted", nil)
	}
}

func fatal(logger *log.Logger, msg string, err error) {
	if err != nil {
		logger.Error(msg, log.FieldError, err)
	} else {
		logger.Error(msg)
	}
	os.Exit(1)
}

func signalChan() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	return c
}
