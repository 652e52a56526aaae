// Command blockgridd runs the Blockgrid daemon: it loads configuration and
// signing keys, opens the durable store, and serves the HTTP API described
// by the api package until it receives an interrupt.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kevin-bruhwiler/Kowloon/api"
	"github.com/kevin-bruhwiler/Kowloon/blockgrid"
	"github.com/kevin-bruhwiler/Kowloon/blockstore"
	"github.com/kevin-bruhwiler/Kowloon/build"
	"github.com/kevin-bruhwiler/Kowloon/config"
	"github.com/kevin-bruhwiler/Kowloon/logging"
	"github.com/kevin-bruhwiler/Kowloon/oracle"
	"github.com/kevin-bruhwiler/Kowloon/reconcile"
	"github.com/kevin-bruhwiler/Kowloon/signer"
	"github.com/kevin-bruhwiler/Kowloon/sweeper"
)

func main() {
	dataDir := flag.String("data-dir", filepath.Join(os.Getenv("HOME"), ".blockgridd"), "directory holding config files, the server key, and the database")
	addr := flag.String("addr", ":8080", "address the HTTP API listens on")
	appID := flag.String("app-id", "", "application id the trust oracle's ticket check is parameterised by")
	oracleURL := flag.String("oracle-url", "", "trust oracle base URL (default: oracle.DefaultBaseURL)")
	flag.Parse()

	if err := run(*dataDir, *addr, *appID, *oracleURL); err != nil {
		fmt.Fprintln(os.Stderr, "blockgridd:", err)
		os.Exit(1)
	}
}

func run(dataDir, addr, appID, oracleURL string) (runErr error) {
	fmt.Printf("blockgridd %s\n", build.Version)
	if build.GitRevision != "" {
		fmt.Println("Git Revision " + build.GitRevision)
		fmt.Println("Build Time " + build.BuildTime)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("could not create data directory: %w", err)
	}

	logger, err := logging.New(filepath.Join(dataDir, "blockgridd.log"))
	if err != nil {
		return fmt.Errorf("could not open log file: %w", err)
	}

	cfg, err := config.Load(dataDir)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	serverKey, err := loadOrGenerateServerKey(filepath.Join(dataDir, "serverkey.pem"))
	if err != nil {
		return fmt.Errorf("could not load server key: %w", err)
	}

	store, err := blockstore.OpenBoltStore(filepath.Join(dataDir, "blockgrid.db"))
	if err != nil {
		return fmt.Errorf("could not open blockstore: %w", err)
	}
	defer func() {
		runErr = build.ComposeErrors(runErr, build.ExtendErr("closing blockstore", store.Close()))
	}()

	bg, err := blockgrid.New(store, serverKey, logger)
	if err != nil {
		return fmt.Errorf("could not initialize blockgrid: %w", err)
	}

	oc := oracle.NewHTTPClient(oracleURL, appID, cfg.WebAPIKey, cfg.Moderators, logger)
	resolver := reconcile.New(logger)

	sw := sweeper.New(bg, bg.Store(), logger)
	if err := sw.Start(); err != nil {
		return fmt.Errorf("could not start maintenance sweeper: %w", err)
	}
	defer sw.Close()

	srv, err := api.NewServer(addr, bg, oc, resolver, logger)
	if err != nil {
		return fmt.Errorf("could not start API server: %w", err)
	}

	fmt.Printf("listening on %s\n", addr)
	return srv.Serve()
}

// loadOrGenerateServerKey reads the PEM-encoded server signing key at path,
// generating and persisting a new one if none exists yet.
func loadOrGenerateServerKey(path string) (signer.PrivateKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		return signer.ParsePrivateKey(data)
	} else if !os.IsNotExist(err) {
		return signer.PrivateKey{}, err
	}

	priv, _, err := signer.GenerateKeys()
	if err != nil {
		return signer.PrivateKey{}, err
	}
	if err := os.WriteFile(path, priv.MarshalPEM(), 0600); err != nil {
		return signer.PrivateKey{}, err
	}
	return priv, nil
}
