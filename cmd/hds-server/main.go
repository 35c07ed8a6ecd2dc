// Command hds-server runs a single Host Directory Service instance:
// Store, Federation Client, Host Handler, and HTTP Surface, wired
// together from a YAML config file. Grounded on boulder's
// cmd/boulder-wfe2/main.go for the overall shape of flag parsing,
// config load, service construction, and graceful shutdown.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Half-Shot/hds/blog"
	"github.com/Half-Shot/hds/bootstrap"
	"github.com/Half-Shot/hds/cmd"
	"github.com/Half-Shot/hds/federation"
	"github.com/Half-Shot/hds/goodkey"
	"github.com/Half-Shot/hds/handler"
	"github.com/Half-Shot/hds/httpsrv"
	"github.com/Half-Shot/hds/metrics"
	"github.com/Half-Shot/hds/store"
)

func main() {
	configPath := flag.String("config", "", "path to the directory's YAML config file")
	migrate := flag.Bool("migrate", false, "create database tables if they don't exist, then exit")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: hds-server -config=<path>")
		os.Exit(1)
	}

	var conf cmd.Config
	if err := cmd.ReadConfigFile(*configPath, &conf); err != nil {
		fmt.Fprintf(os.Stderr, "reading config: %s\n", err)
		os.Exit(1)
	}

	clk := clock.Default()
	logger := blog.New(clk, conf.Directory.Debug)

	priv, err := loadPrivateKey(conf.Directory.KeyPath)
	cmd.FailOnError(logger, err, "loading private key")

	if err := goodkey.Validate(&priv.PublicKey); err != nil {
		cmd.FailOnError(logger, err, "private key does not meet policy")
	}
	serverKey, err := goodkey.EncodeServerKey(&priv.PublicKey)
	cmd.FailOnError(logger, err, "encoding server key")
	logger.Info(fmt.Sprintf("this directory's server key is %s", serverKey))

	dbMap, err := store.NewDBMap(conf.Directory.DBDriver, conf.Directory.DBDSN, logger)
	cmd.FailOnError(logger, err, "connecting to database")

	if *migrate {
		cmd.FailOnError(logger, dbMap.CreateTablesIfNotExists(), "creating tables")
		logger.Info("tables created, exiting")
		return
	}

	scope := metrics.NewPromScope(prometheus.DefaultRegisterer, "directory")
	sqlStore := store.NewSQLStore(dbMap, clk, logger, scope.NewScope("store"))

	fedClient := federation.New(priv, serverKey, nil, logger, scope.NewScope("federation"))

	h := handler.New(sqlStore, fedClient, logger, scope.NewScope("handler"))

	ttlSec := int64(conf.Directory.TTL.Duration.Seconds())
	if ttlSec == 0 {
		ttlSec = 86400
	}
	boot := bootstrap.New(sqlStore, fedClient, logger, serverKey, bootstrap.Identity{
		Host:         conf.Directory.Host,
		Name:         conf.Directory.Name,
		ContactName:  conf.Directory.ContactName,
		ContactEmail: conf.Directory.ContactEmail,
		DirectoryURL: conf.Directory.DirectoryURL,
		TTLSec:       ttlSec,
	}, conf.Directory.RegisterHosts)

	cmd.FailOnError(logger, boot.SeedIdentity(context.Background()), "seeding identity")
	boot.RegisterWithPeers(context.Background())

	refreshCtx, cancelRefresh := context.WithCancel(context.Background())
	go boot.RunRefreshLoop(refreshCtx)

	srv := httpsrv.New(h, sqlStore, fedClient, logger, scope.NewScope("httpsrv"), clk, serverKey)

	httpServer := &http.Server{
		Addr:    conf.Directory.ListenAddress,
		Handler: srv.Mux(),
	}

	go func() {
		logger.Info(fmt.Sprintf("listening on %s", conf.Directory.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Err(fmt.Sprintf("http server stopped: %s", err))
		}
	}()

	cmd.CatchSignals(logger, func() {
		cancelRefresh()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Err(fmt.Sprintf("error during shutdown: %s", err))
		}
	})
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("private key %q does not exist; generate one out-of-band and point keyPath at it", path)
	}
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %q", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key in %q is not an RSA key", path)
	}
	return rsaKey, nil
}
