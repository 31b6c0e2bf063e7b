// Command winsso exercises Windows integrated authentication from the command line.
//
// Password can be provided via:
//   - -pass flag (least secure, visible in process list)
//   - WINSSO_PASSWORD environment variable (recommended)
//   - stdin prompt (if neither flag nor env var is set)
//
// Usage:
//
//	winsso -whoami
//	winsso -package NTLM -target intranet.corp.example
//	winsso -url https://intranet.corp.example/ [-package Negotiate]
//
// Off Windows there is no native provider; pass -user (NTLM) or one of
// -krb5conf, -realm, -ccache, -keytab (Negotiate via Kerberos).
//
// Examples:
//
//	# Print the logon identity of this process
//	winsso -whoami
//
//	# NTLM with explicit credentials from the environment
//	export WINSSO_PASSWORD='use-the-force'
//	winsso -url http://intranet.corp.example/ -user 'URSA-MINOR\luke'
//
//	# Kerberos from an existing credential cache
//	winsso -url https://intranet.corp.example/ -package Negotiate -ccache /tmp/krb5cc_1000 -realm CORP.EXAMPLE
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/smnsjas/go-winsso/httpauth"
	winlog "github.com/smnsjas/go-winsso/internal/log"
	"github.com/smnsjas/go-winsso/provider"
	"github.com/smnsjas/go-winsso/sso"
)

type options struct {
	whoami   bool
	pkg      string
	target   string
	url      string
	username string
	password string
	domain   string
	krb5Conf string
	realm    string
	ccache   string
	keytab   string
	logLevel string
	logFile  string
	allow    string
	insecure bool
	timeout  time.Duration
}

func main() {
	var o options
	flag.BoolVar(&o.whoami, "whoami", false, "Print the logon user name and exit")
	flag.StringVar(&o.pkg, "package", "NTLM", "Security package: NTLM or Negotiate")
	flag.StringVar(&o.target, "target", "", "Target host FQDN; the SPN becomes HTTP/<target>")
	flag.StringVar(&o.url, "url", "", "Perform an authenticated GET against this URL")
	flag.StringVar(&o.username, "user", "", "Username (DOMAIN\\user or user) for explicit NTLM credentials")
	flag.StringVar(&o.password, "pass", "", "Password (use WINSSO_PASSWORD env var instead)")
	flag.StringVar(&o.domain, "domain", "", "Domain for explicit credentials")
	flag.StringVar(&o.krb5Conf, "krb5conf", "", "Path to krb5.conf file")
	flag.StringVar(&o.realm, "realm", "", "Kerberos realm (e.g., EXAMPLE.COM)")
	flag.StringVar(&o.ccache, "ccache", "", "Path to Kerberos credential cache (e.g. /tmp/krb5cc_1000)")
	flag.StringVar(&o.keytab, "keytab", "", "Path to Kerberos keytab")
	flag.StringVar(&o.logLevel, "loglevel", "", "Log level: debug, info, warn, error")
	flag.StringVar(&o.logFile, "logfile", "", "Write logs to this file (rotated) instead of stderr")
	flag.StringVar(&o.allow, "allow", "", "Comma-separated host globs allowed to receive credentials (e.g. *.corp.example)")
	flag.BoolVar(&o.insecure, "insecure", false, "Skip TLS certificate verification")
	flag.DurationVar(&o.timeout, "timeout", httpauth.DefaultTimeout, "HTTP request timeout")
	flag.Parse()

	logger, closer, err := winlog.New(winlog.Options{Level: o.logLevel, File: o.logFile})
	if err != nil {
		fail(err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	if err := run(context.Background(), o, os.Stdout, logger); err != nil {
		_ = closer.Close()
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, errorf("Error: %v", err))
	os.Exit(1)
}

func run(ctx context.Context, o options, w io.Writer, logger *slog.Logger) error {
	pkg, err := provider.ParsePackage(o.pkg)
	if err != nil {
		return err
	}
	newBinding, err := bindingFactory(o, pkg, logger)
	if err != nil {
		return err
	}

	switch {
	case o.whoami:
		b, err := newBinding()
		if err != nil {
			return err
		}
		name, err := sso.LogonUserName(b)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, name)
		return nil

	case o.url != "":
		return fetch(ctx, o, pkg, newBinding, w, logger)

	default:
		b, err := newBinding()
		if err != nil {
			return err
		}
		ac, err := sso.New(b, pkg, sso.WithTargetHost(o.target), sso.WithLogger(logger))
		if err != nil {
			return err
		}
		defer ac.Free()

		h, err := ac.CreateAuthRequestHeader()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "Authorization: "+h)
		return nil
	}
}

func fetch(ctx context.Context, o options, pkg provider.Package, newBinding func() (provider.Binding, error), w io.Writer, logger *slog.Logger) error {
	trace := &traceTransport{}
	opts := []httpauth.ClientOption{
		httpauth.WithPackage(pkg),
		httpauth.WithBinding(newBinding),
		httpauth.WithLogger(logger),
		httpauth.WithTimeout(o.timeout),
		httpauth.WithInsecureSkipVerify(o.insecure),
	}
	if o.allow != "" {
		opts = append(opts, httpauth.WithAllowedHosts(splitList(o.allow)...))
	}
	client := httpauth.NewClient(opts...)

	// Wrap the configured base so every leg is recorded.
	auth := client.Transport.(*httpauth.Transport)
	trace.next = auth.Base
	auth.Base = trace

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		trace.print(w)
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	trace.print(w)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	fmt.Fprintln(w, success("authenticated: HTTP %d", resp.StatusCode))
	return nil
}

// bindingFactory picks the provider: Kerberos when any Kerberos flag is set,
// NTLMSSP when a user is given, otherwise the native binding.
func bindingFactory(o options, pkg provider.Package, logger *slog.Logger) (func() (provider.Binding, error), error) {
	kerberos := o.krb5Conf != "" || o.realm != "" || o.ccache != "" || o.keytab != ""

	switch {
	case kerberos:
		if pkg != provider.Negotiate {
			return nil, fmt.Errorf("kerberos flags require -package Negotiate")
		}
		cfg := provider.KerberosConfig{
			Realm:        o.realm,
			Krb5ConfPath: o.krb5Conf,
			KeytabPath:   o.keytab,
			CCachePath:   o.ccache,
			Logger:       logger,
		}
		if o.username != "" {
			creds := provider.Credentials{Username: o.username, Domain: o.domain}
			if o.ccache == "" && o.keytab == "" {
				creds.Password = getPassword(o.password)
			}
			cfg.Credentials = &creds
		}
		k, err := provider.NewKerberos(cfg)
		if err != nil {
			return nil, err
		}
		return func() (provider.Binding, error) { return k, nil }, nil

	case o.username != "":
		if pkg != provider.NTLM {
			return nil, fmt.Errorf("explicit credentials without Kerberos flags require -package NTLM")
		}
		creds := provider.Credentials{
			Username: o.username,
			Password: getPassword(o.password),
			Domain:   o.domain,
		}
		if err := creds.Validate(); err != nil {
			return nil, err
		}
		n := provider.NewNTLMSSP(creds, provider.WithNTLMSSPLogger(logger))
		return func() (provider.Binding, error) { return n, nil }, nil

	default:
		return provider.Native, nil
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getPassword returns password from flag, env var, or prompts for it.
func getPassword(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPass := os.Getenv("WINSSO_PASSWORD"); envPass != "" {
		return envPass
	}

	fmt.Fprint(os.Stderr, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		passBytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return ""
		}
		return string(passBytes)
	}

	// Not a terminal (piped input): read line
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}
