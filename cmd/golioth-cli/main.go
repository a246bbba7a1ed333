package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/golioth/golioth-firmware-sdk-go/client"
	"github.com/golioth/golioth-firmware-sdk-go/transport"
)

var (
	flagAddr       string
	flagPSKID      string
	flagPSKKey     string
	flagInsecure   bool
	flagVerbose    bool
	flagGet        string
	flagConnectFor time.Duration
)

func init() {
	flag.StringVar(&flagAddr, "addr", "", "server host:port")
	flag.StringVar(&flagAddr, "a", "", "server host:port (shorthand of --addr)")
	flag.StringVar(&flagPSKID, "psk-id", "", "PSK identity")
	flag.StringVar(&flagPSKKey, "psk-key", "", "PSK key (raw string bytes; hex is not decoded)")
	flag.BoolVar(&flagInsecure, "insecure", false, "skip TLS certificate checks")
	flag.BoolVar(&flagInsecure, "k", false, "skip TLS certificate checks (shorthand of --insecure)")
	flag.BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	flag.BoolVar(&flagVerbose, "v", false, "verbose logging (shorthand of --verbose)")
	flag.StringVar(&flagGet, "get", "", "LightDB state path to fetch once connected, then exit")
	flag.DurationVar(&flagConnectFor, "wait-connect", 10*time.Second, "how long to wait for the initial connect")
}

func main() {
	flag.Parse()
	if flagAddr == "" {
		log.Fatal("FATAL: --addr is required")
	}

	logLevel := logrus.InfoLevel
	if flagVerbose {
		logLevel = logrus.DebugLevel
	}
	client.SetLogLevel(logLevel)
	logEntry := logrus.NewEntry(logrus.StandardLogger())

	creds := transport.NewPSKCredentials(flagPSKID, []byte(flagPSKKey))
	cfg := client.Config{
		Addr:        flagAddr,
		Credentials: creds,
		Transport:   transport.DefaultParams,
		Log:         logEntry,
	}
	cfg.Transport.InsecureSkipVerify = flagInsecure

	c := client.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		log.Fatalf("FATAL starting client: %s\n", err.Error())
	}
	defer c.Destroy()

	if !c.WaitForConnect(ctx, flagConnectFor) {
		log.Fatalf("FATAL: did not connect within %s\n", flagConnectFor)
	}
	fmt.Fprintf(os.Stderr, "connected to %s\n", flagAddr)

	if flagGet != "" {
		payload, ct, err := c.LightDB.Get(ctx, flagGet)
		if err != nil {
			log.Fatalf("FATAL get %s: %s\n", flagGet, err.Error())
		}
		fmt.Printf("content-type=%v\n%s\n", ct, payload)
		return
	}

	<-ctx.Done()
}
