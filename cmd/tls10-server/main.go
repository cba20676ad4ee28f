// Command tls10-server is a minimal driver for pkg/engine: it owns the
// socket and event loop the engine itself stays free of, so the engine
// can be exercised end to end without a real TLS client in the loop.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/pzverkov-student/tls10-engine/pkg/engine"
	"github.com/pzverkov-student/tls10-engine/pkg/metrics"
)

var (
	version   = ""
	buildTime = "unknown"
)

func getVersion() string {
	if version != "" {
		return version
	}
	return "dev"
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serveCommand()
	case "selftest":
		selftestCommand()
	case "version":
		fmt.Printf("tls10-server version %s\n", getVersion())
		if buildTime != "unknown" {
			fmt.Printf("Built: %s\n", buildTime)
		}
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tls10-server - TLS 1.0 record-and-handshake engine demo

USAGE:
    tls10-server <command> [options]

COMMANDS:
    serve     Accept TCP connections and drive the engine over each one
    selftest  Run a loopback handshake and application-data exchange in-process
    version   Print version information
    help      Show this help message

EXAMPLES:
    tls10-server serve --addr :8443 --log-level info
    tls10-server selftest`)
}

func serveCommand() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8443", "Address to listen on")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error, silent")
	logFormat := fs.String("log-format", "text", "Log format: text or json")
	fs.Parse(os.Args[2:])

	format := metrics.FormatText
	if *logFormat == "json" {
		format = metrics.FormatJSON
	}
	logger := metrics.NewLogger(
		metrics.WithLevel(metrics.ParseLevel(*logLevel)),
		metrics.WithFormat(format),
		metrics.WithName("tls10-server"),
	)

	certDER, priv, err := generateSelfSignedCert()
	if err != nil {
		logger.Error("failed to generate server identity", metrics.Fields{"error": err.Error()})
		os.Exit(1)
	}

	e := engine.New([][]byte{certDER}, priv, engine.WithLogger(logger))

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Error("failed to listen", metrics.Fields{"addr": *addr, "error": err.Error()})
		os.Exit(1)
	}
	logger.Info("listening", metrics.Fields{"addr": *addr})

	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Error("accept failed", metrics.Fields{"error": err.Error()})
			continue
		}
		go serveConn(e, conn, logger)
	}
}

func serveConn(e *engine.Engine, conn net.Conn, logger *metrics.Logger) {
	defer conn.Close()
	state := e.InitialState()
	buf := make([]byte, 16*1024)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err != io.EOF {
				logger.Warn("read failed", metrics.Fields{"error": err.Error()})
			}
			return
		}

		var out []byte
		var events []engine.Event
		state, out, events, err = e.Handle(state, buf[:n])
		if err != nil {
			logger.Warn("handshake or record error", metrics.Fields{"error": err.Error()})
			return
		}
		if len(out) > 0 {
			if _, err := conn.Write(out); err != nil {
				logger.Warn("write failed", metrics.Fields{"error": err.Error()})
				return
			}
		}
		for _, ev := range events {
			switch ev.Kind {
			case engine.EventHandshakeComplete:
				logger.Info("handshake complete", nil)
			case engine.EventApplicationData:
				logger.Debug("application data received", metrics.Fields{"bytes": len(ev.Data)})
				var reply []byte
				state, reply, err = e.Send(state, ev.Data)
				if err != nil {
					logger.Warn("echo send failed", metrics.Fields{"error": err.Error()})
					return
				}
				if _, err := conn.Write(reply); err != nil {
					logger.Warn("write failed", metrics.Fields{"error": err.Error()})
					return
				}
			case engine.EventAlertReceived:
				logger.Info("alert received", metrics.Fields{"level": ev.Alert.Level, "description": ev.Alert.Description})
			}
		}
	}
}

// generateSelfSignedCert builds an ephemeral RSA identity for the demo
// server. Certificate validation is out of scope for this engine; the
// demo needs only well-formed DER bytes to populate the Certificate
// message.
func generateSelfSignedCert() ([]byte, *rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "tls10-engine demo"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, err
	}
	return der, priv, nil
}
