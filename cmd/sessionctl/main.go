package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-session-vault/internal/config"
	"github.com/jrsteele09/go-session-vault/oauthflow"
	"github.com/jrsteele09/go-session-vault/session"
	"github.com/jrsteele09/go-session-vault/vault"
)

func main() {
	mode := flag.String("mode", "device", "login mode: device or redirect")
	configPath := flag.String("config", "", "optional YAML config file")
	watch := flag.Bool("watch", false, "stay running and report session countdown")
	flag.Parse()

	if err := run(*mode, *configPath, *watch); err != nil {
		log.Fatalf("Error: %s\n", err)
	}
	log.Printf("Done\n")
}

func run(mode, configPath string, watch bool) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	displayAppname(cfg.GetAppName())

	if cfg.GetIssuer() == "" || cfg.GetClientID() == "" {
		return errors.New("OAUTH_ISSUER and OAUTH_CLIENT_ID must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secret, err := session.NewSecret()
	if err != nil {
		return fmt.Errorf("session.NewSecret: %w", err)
	}

	storage, err := vault.NewFileStorage(cfg.GetStorageDir())
	if err != nil {
		return fmt.Errorf("vault.NewFileStorage: %w", err)
	}

	credentialVault, err := vault.New(secret, storage, cfg.GetOrigin(),
		vault.WithSessionTimeout(cfg.GetSessionTimeout()),
		vault.WithStaleCeiling(cfg.GetStaleCeiling()),
		vault.WithCleanupInterval(cfg.GetCleanupInterval()),
		vault.WithCountdownInterval(cfg.GetCountdownInterval()),
	)
	if err != nil {
		return fmt.Errorf("vault.New: %w", err)
	}
	defer credentialVault.Close()

	endpoint, err := oauthflow.DiscoverEndpoints(ctx, cfg.GetIssuer())
	if err != nil {
		return fmt.Errorf("endpoint discovery: %w", err)
	}

	callbackServer := oauthflow.NewCallbackServer(cfg.GetCallbackPort())
	redirectURL := ""
	if mode == string(session.ModeRedirect) {
		redirectURL, err = callbackServer.Start(ctx)
		if err != nil {
			return fmt.Errorf("callback server: %w", err)
		}
		defer callbackServer.Stop()
	}

	controller, err := oauthflow.New(oauth2.Config{
		ClientID:     cfg.GetClientID(),
		ClientSecret: cfg.GetClientSecret(),
		Endpoint:     endpoint,
		Scopes:       cfg.GetScopes(),
		RedirectURL:  redirectURL,
	}, credentialVault, oauthflow.WithStateTimeout(cfg.GetStateTimeout()))
	if err != nil {
		return fmt.Errorf("oauthflow.New: %w", err)
	}

	svc, err := session.New(credentialVault, controller,
		session.WithAuthURLHandler(func(authURL string) {
			fmt.Printf("\nOpen this URL in your browser to sign in:\n\n  %s\n\n", authURL)
		}),
		session.WithDevicePromptHandler(func(userCode, verificationURI string) {
			fmt.Printf("\nVisit %s and enter the code: %s\n\n", verificationURI, userCode)
		}),
	)
	if err != nil {
		return fmt.Errorf("session.New: %w", err)
	}

	svc.OnExpire(func(event vault.Event) {
		log.Printf("Session expired at %s\n", event.At.Format(time.RFC3339))
	})
	svc.OnRefresh(func(event vault.Event) {
		log.Printf("Session refreshed at %s\n", event.At.Format(time.RFC3339))
	})

	if err := login(ctx, svc, callbackServer, mode); err != nil {
		return err
	}

	log.Printf("Authenticated. Session valid for %s (scopes: %v)\n", credentialVault.Remaining(), svc.Scopes())
	if !watch {
		return nil
	}

	svc.OnCountdown(func(remaining time.Duration) {
		if remaining%time.Minute < time.Second {
			log.Printf("Session expires in %s\n", remaining.Round(time.Second))
		}
	})

	<-ctx.Done()
	log.Printf("Shutting down\n")
	return nil
}

func login(ctx context.Context, svc *session.Service, callbackServer *oauthflow.CallbackServer, mode string) error {
	switch session.Mode(mode) {
	case session.ModeDevice:
		return svc.Login(ctx, session.ModeDevice)
	case session.ModeRedirect:
		if err := svc.Login(ctx, session.ModeRedirect); err != nil {
			return err
		}
		result, err := callbackServer.WaitForCallback(ctx)
		if err != nil {
			return fmt.Errorf("waiting for callback: %w", err)
		}
		if result.IsError() {
			return fmt.Errorf("provider error: %s: %s", result.Error, result.ErrorDescription)
		}
		return svc.CompleteRedirect(ctx, result.Code, result.State)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.New(), nil
	}
	return config.FromFile(path)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
