package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-krb5/krb5/client"
	"github.com/go-krb5/krb5/config"
	"github.com/go-krb5/krb5/credentials"
	"github.com/go-krb5/krb5/keytab"
	"github.com/go-krb5/krb5/spnego"

	"github.com/smnsjas/go-winsso/secbuf"
)

// KerberosMaxTokenLength matches the cbMaxToken SSPI reports for Negotiate.
const KerberosMaxTokenLength = 48000

// CodeTargetUnknown is reported when a Kerberos step has no service principal.
const CodeTargetUnknown uint32 = 0x80090303

// KerberosConfig configures the Kerberos binding.
type KerberosConfig struct {
	// Realm is the Kerberos realm (e.g. EXAMPLE.COM).
	Realm string

	// Krb5ConfPath is the path to krb5.conf. Defaults to $KRB5_CONFIG, then /etc/krb5.conf.
	Krb5ConfPath string

	// KeytabPath is the path to a keytab file (optional).
	KeytabPath string

	// CCachePath is the path to a credential cache (optional).
	CCachePath string

	// Credentials supply the principal for a keytab, or a password when no
	// keytab or ccache is given.
	Credentials *Credentials

	// Logger receives debug output. Defaults to slog.Default().
	Logger *slog.Logger
}

type kerberosEntry struct {
	client  *client.Client
	started bool
	done    bool
}

// Kerberos is a Binding for package Negotiate backed by github.com/go-krb5/krb5.
// It emits SPNEGO NegTokenInit tokens carrying a Kerberos AP-REQ.
type Kerberos struct {
	cfg     KerberosConfig
	conf    *config.Config
	logger  *slog.Logger
	handles handleTable[kerberosEntry]
}

// NewKerberos loads krb5.conf and checks that a credential source is configured.
func NewKerberos(cfg KerberosConfig) (*Kerberos, error) {
	if cfg.Krb5ConfPath == "" {
		cfg.Krb5ConfPath = os.Getenv("KRB5_CONFIG")
		if cfg.Krb5ConfPath == "" {
			cfg.Krb5ConfPath = "/etc/krb5.conf"
		}
	}
	conf, err := config.Load(cfg.Krb5ConfPath)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf from %s: %w", cfg.Krb5ConfPath, err)
	}

	switch {
	case cfg.KeytabPath != "":
		if cfg.Credentials == nil || cfg.Credentials.Username == "" {
			return nil, errors.New("keytab authentication requires a username")
		}
	case cfg.CCachePath != "":
	case cfg.Credentials != nil:
		if err := cfg.Credentials.Validate(); err != nil {
			return nil, fmt.Errorf("password authentication: %w", err)
		}
	default:
		return nil, errors.New("no credentials provided (keytab, ccache, or password required)")
	}

	if cfg.Realm == "" {
		cfg.Realm = conf.LibDefaults.DefaultRealm
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Kerberos{cfg: cfg, conf: conf, logger: logger}, nil
}

func (k *Kerberos) newClient() (*client.Client, error) {
	switch {
	case k.cfg.KeytabPath != "":
		kt, err := keytab.Load(k.cfg.KeytabPath)
		if err != nil {
			return nil, fmt.Errorf("load keytab from %s: %w", k.cfg.KeytabPath, err)
		}
		return client.NewWithKeytab(k.cfg.Credentials.Username, k.cfg.Realm, kt, k.conf, client.DisablePAFXFAST(true)), nil
	case k.cfg.CCachePath != "":
		cc, err := credentials.LoadCCache(k.cfg.CCachePath)
		if err != nil {
			return nil, fmt.Errorf("load ccache from %s: %w", k.cfg.CCachePath, err)
		}
		cl, err := client.NewFromCCache(cc, k.conf, client.DisablePAFXFAST(true))
		if err != nil {
			return nil, fmt.Errorf("create client from ccache: %w", err)
		}
		return cl, nil
	default:
		return client.NewWithPassword(
			k.cfg.Credentials.Username,
			k.cfg.Realm,
			k.cfg.Credentials.Password,
			k.conf,
			client.DisablePAFXFAST(true),
		), nil
	}
}

// AcquireCredentials implements Binding.
func (k *Kerberos) AcquireCredentials(pkg Package) (Handle, error) {
	const op = "AcquireCredentialsHandle"
	if pkg != Negotiate {
		return 0, &ProviderError{Op: op, Code: CodeSecPkgNotFound, Err: fmt.Errorf("package %q not supported", pkg)}
	}
	cl, err := k.newClient()
	if err != nil {
		return 0, &ProviderError{Op: op, Code: CodeNoCredentials, Err: err}
	}
	return k.handles.add(&kerberosEntry{client: cl}), nil
}

// QueryMaxTokenLength implements Binding.
func (k *Kerberos) QueryMaxTokenLength(pkg Package) (uint32, error) {
	if pkg != Negotiate {
		return 0, &ProviderError{Op: "QuerySecurityPackageInfo", Code: CodeSecPkgNotFound}
	}
	return KerberosMaxTokenLength, nil
}

// InitializeContext implements Binding.
//
// The first leg logs in and produces a NegTokenInit. The server's
// NegTokenResp completes the context with no further token when its state is
// accept-completed; reject maps to CodeLogonDenied.
func (k *Kerberos) InitializeContext(h Handle, targetName string, in, out *secbuf.List) (Status, error) {
	const op = "InitializeSecurityContext"

	e, err := k.handles.get(op, h)
	if err != nil {
		return 0, err
	}
	if in != nil {
		if _, ok := in.Find(secbuf.ChannelBindings); ok {
			k.logger.Debug("Kerberos binding ignores channel bindings")
		}
	}

	if !firstLeg(in) {
		if !e.started || e.done {
			return 0, &ProviderError{Op: op, Code: CodeInvalidToken, Err: errors.New("unexpected server token")}
		}
		e.done = true
		if err := k.checkNegTokenResp(op, inputToken(in)); err != nil {
			return 0, err
		}
		if err := out.SetLength(0, 0); err != nil {
			return 0, &ProviderError{Op: op, Code: CodeInternalError, Err: err}
		}
		k.logger.Debug("Kerberos context complete", "serverTokenLen", len(inputToken(in)))
		return StatusComplete, nil
	}

	if targetName == "" {
		return 0, &ProviderError{Op: op, Code: CodeTargetUnknown, Err: errors.New("service principal name required")}
	}
	if err := e.client.Login(); err != nil {
		return 0, &ProviderError{Op: op, Code: CodeLogonDenied, Err: fmt.Errorf("kerberos login: %w", err)}
	}

	tkn, err := spnego.SPNEGOClient(e.client, targetName).InitSecContext()
	if err != nil {
		return 0, &ProviderError{Op: op, Code: CodeInternalError, Err: err}
	}
	token, err := tkn.Marshal()
	if err != nil {
		return 0, &ProviderError{Op: op, Code: CodeInternalError, Err: fmt.Errorf("marshal token: %w", err)}
	}
	if err := writeToken(op, out, token); err != nil {
		return 0, err
	}
	e.started, e.done = true, false
	k.logger.Debug("Kerberos NegTokenInit created", "spn", targetName, "outputLen", len(token))
	return StatusContinueNeeded, nil
}

// checkNegTokenResp accepts only a NegTokenResp whose state is
// accept-completed.
func (k *Kerberos) checkNegTokenResp(op string, b []byte) error {
	var resp spnego.NegTokenResp
	if err := resp.Unmarshal(b); err != nil {
		return &ProviderError{Op: op, Code: CodeInvalidToken, Err: fmt.Errorf("parse NegTokenResp: %w", err)}
	}
	state := resp.State()
	k.logger.Debug("Kerberos NegTokenResp received", "negState", int(state))
	switch state {
	case spnego.NegStateAcceptCompleted:
		return nil
	case spnego.NegStateReject:
		return &ProviderError{Op: op, Code: CodeLogonDenied, Err: errors.New("server rejected the negotiation")}
	default:
		return &ProviderError{Op: op, Code: CodeInvalidToken, Err: fmt.Errorf("unsupported negotiation state %d", int(state))}
	}
}

// DeleteContext implements Binding.
func (k *Kerberos) DeleteContext(h Handle) error {
	e, err := k.handles.get("DeleteSecurityContext", h)
	if err != nil {
		return err
	}
	e.started, e.done = false, false
	return nil
}

// FreeCredentials implements Binding.
func (k *Kerberos) FreeCredentials(h Handle) error {
	e, err := k.handles.remove("FreeCredentialsHandle", h)
	if err != nil {
		return err
	}
	e.client.Destroy()
	return nil
}

// LogonUserName implements Binding. The realm stands in for the domain.
func (k *Kerberos) LogonUserName() (string, error) {
	if k.cfg.Credentials != nil && k.cfg.Credentials.Username != "" {
		c := *k.cfg.Credentials
		if c.Domain == "" {
			c.Domain = k.cfg.Realm
		}
		return c.LogonName(), nil
	}
	if k.cfg.CCachePath != "" {
		cc, err := credentials.LoadCCache(k.cfg.CCachePath)
		if err != nil {
			return "", &ProviderError{Op: "GetUserNameEx", Code: CodeNoCredentials, Err: err}
		}
		name := cc.GetClientPrincipalName().PrincipalNameString()
		if realm := cc.GetClientRealm(); realm != "" {
			return realm + `\` + name, nil
		}
		return name, nil
	}
	return "", &ProviderError{Op: "GetUserNameEx", Code: CodeNoCredentials, Err: errors.New("no principal configured")}
}
