// Command saslping connects to an AMQP 1.0 peer, runs the SASL negotiation
// and reports the outcome.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/pborman/getopt/v2"
	tls "github.com/refraction-networking/utls"

	"github.com/ooni/minisasl/internal/model"
	"github.com/ooni/minisasl/internal/networkio"
	"github.com/ooni/minisasl/internal/runtimex"
	"github.com/ooni/minisasl/internal/tracex"
	"github.com/ooni/minisasl/pkg/config"
	"github.com/ooni/minisasl/pkg/handshake"
)

var (
	startTime = time.Now()
)

func printUsage() {
	fmt.Println("usage: saslping [options] [host:port | ws-url]")
	getopt.Usage()
	os.Exit(0)
}

func verbosityLevel(verbosity uint16) log.Level {
	switch verbosity {
	case uint16(1):
		return log.FatalLevel
	case uint16(2):
		return log.ErrorLevel
	case uint16(3):
		return log.WarnLevel
	case uint16(4):
		return log.InfoLevel
	default:
		return log.DebugLevel
	}
}

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Configuration file")
	optUser := getopt.StringLong("user", 'u', "", "PLAIN username (overrides the config file)")
	optPassword := getopt.StringLong("password", 'p', "", "PLAIN password (overrides the config file)")
	optTimeout := getopt.IntLong("timeout", 't', 10, "Timeout in seconds")
	optVerbosity := getopt.Uint16Long("verbosity", 'v', uint16(4), "Verbosity level (1 to 5, 1 is lowest)")
	optTLS := getopt.BoolLong("tls", 0, "Negotiate TLS before SASL (AMQPS)")
	optInsecure := getopt.BoolLong("insecure", 'k', "Do not verify the TLS certificate")
	optWebSocket := getopt.BoolLong("ws", 0, "Connect to a WebSocket URL using the amqp subprotocol")
	optTrace := getopt.BoolLong("trace", 0, "Write a trace of the negotiation to handshake-trace.json")
	optSelfTest := getopt.BoolLong("selftest", 0, "Run both roles over a loopback connection")

	helpFlag := getopt.Bool('h', "Display help")

	getopt.Parse()
	args := getopt.Args()

	if *helpFlag || (len(args) != 1 && !*optSelfTest) {
		printUsage()
	}

	log.SetHandler(&logHandler{Writer: os.Stderr})
	log.SetLevel(verbosityLevel(*optVerbosity))

	tracer := tracex.NewTracer(startTime)
	opts := []config.Option{
		config.WithLogger(log.Log),
		config.WithHandshakeTracer(tracer),
	}
	if *optConfig != "" {
		opts = append(opts, config.WithConfigFile(*optConfig))
	}
	if *optUser != "" || *optPassword != "" {
		opts = append(opts, config.WithPlainCredentials(*optUser, *optPassword))
	}
	cfg := config.NewConfig(opts...)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*optTimeout)*time.Second)
	defer cancel()

	var err error
	if *optSelfTest {
		err = runSelfTest(ctx, cfg)
	} else {
		err = runClient(ctx, cfg, args[0], *optTLS, *optInsecure, *optWebSocket)
	}

	if *optTrace {
		writeTrace(tracer)
	}
	if err != nil {
		log.WithError(err).Error("negotiation failed")
		if errors.Is(err, handshake.ErrAuthFailed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	fmt.Printf("elapsed: %v\n", time.Since(startTime))
}

func runClient(ctx context.Context, cfg *config.Config, target string, useTLS, insecure, useWebSocket bool) error {
	dialer := networkio.NewDialer(log.Log, &net.Dialer{})

	var conn net.Conn
	var err error
	switch {
	case useWebSocket:
		conn, err = dialer.DialWebSocket(ctx, target)
	case useTLS:
		host, _, _ := net.SplitHostPort(target)
		tlsConfig := &tls.Config{ServerName: host, InsecureSkipVerify: insecure}
		conn, err = dialer.DialTLSContext(ctx, "tcp", target, tlsConfig)
	default:
		conn, err = dialer.DialContext(ctx, "tcp", target)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	result, err := handshake.Initiate(ctx, conn, cfg)
	if result != nil {
		printResult(result)
	}
	return err
}

func printResult(result *handshake.Result) {
	fmt.Printf("session: %s\n", result.SessionID)
	fmt.Printf("outcome: %s\n", result.Outcome)
	fmt.Printf("state:   %s\n", result.State)
}

func writeTrace(tracer model.HandshakeTracer) {
	jsonData, err := json.MarshalIndent(tracer.Trace(), "", "  ")
	runtimex.PanicOnError(err, "cannot serialize trace")
	fileName := "handshake-trace.json"
	if err := os.WriteFile(fileName, jsonData, 0644); err != nil {
		log.WithError(err).Warn("cannot write trace")
		return
	}
	fmt.Println("trace written to", fileName)
}
