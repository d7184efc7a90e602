// Package agent runs the PMDA bootstrap pipeline: parse the command line,
// choose a transport, drop privileges and register the domain with the
// collector.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/tobert/pmda-agent/internal/negotiate"
	"github.com/tobert/pmda-agent/internal/options"
	"github.com/tobert/pmda-agent/internal/transport"
)

// ErrHelp is returned by Bootstrap after usage was printed for --help.
var ErrHelp = errors.New("help requested")

// Options configures one Bootstrap run. Only Name is required.
type Options struct {
	Name          string // agent name, used in usage text and the Hello
	DefaultDomain int    // domain used when --domain is absent; 0 for none

	Catalog  *options.Catalog
	Platform transport.Platform
	Defaults transport.Defaults

	Opener           negotiate.Opener
	HandshakeTimeout time.Duration

	// LoggerFor builds the agent's logger once the command line is known,
	// so --logfile and --debug can shape it. Nil means no logging.
	LoggerFor func(cfg *options.AgentConfig) (*zap.Logger, error)

	// Usage receives help output. Defaults to stderr.
	Usage io.Writer

	// SetIdentity switches the process to the --username account.
	// Defaults to SetProcessIdentity.
	SetIdentity func(username string) error

	OnTransition func(from, to negotiate.State)
}

// Result holds what each completed stage produced. Bootstrap returns it
// alongside an error too, so callers can flush the logger.
type Result struct {
	Config  *options.AgentConfig
	Logger  *zap.Logger
	Request transport.Request
	Session *negotiate.Session
}

// Bootstrap runs the pipeline with args (program name excluded). The
// returned Session owns the collector connection; close it on shutdown.
func Bootstrap(ctx context.Context, args []string, opts Options) (*Result, error) {
	cfg, err := ParseArgs(args, opts)
	if err != nil {
		return &Result{Logger: zap.NewNop(), Config: cfg}, err
	}
	return Run(ctx, cfg, opts)
}

// ParseArgs parses the command line against opts.Catalog. When help was
// requested it writes usage to opts.Usage and returns ErrHelp.
func ParseArgs(args []string, opts Options) (*options.AgentConfig, error) {
	catalog := opts.Catalog
	if catalog == nil {
		catalog = options.DefaultCatalog()
	}

	cfg, err := options.Parse(args, catalog)
	if err != nil {
		return nil, err
	}

	if cfg.HelpRequested {
		w := opts.Usage
		if w == nil {
			w = os.Stderr
		}
		if err := options.WriteUsage(w, opts.Name, catalog); err != nil {
			return cfg, fmt.Errorf("writing usage: %w", err)
		}
		return cfg, ErrHelp
	}
	return cfg, nil
}

// Run carries a parsed command line through logging, transport selection,
// the identity switch and negotiation.
func Run(ctx context.Context, cfg *options.AgentConfig, opts Options) (*Result, error) {
	res := &Result{Logger: zap.NewNop(), Config: cfg}

	if opts.LoggerFor != nil {
		logger, err := opts.LoggerFor(cfg)
		if err != nil {
			return res, fmt.Errorf("failed to set up logging: %w", err)
		}
		res.Logger = logger
	}
	log := res.Logger.With(zap.String("agent", opts.Name))

	req, err := transport.Select(cfg, opts.Platform, opts.Defaults)
	if err != nil {
		log.Error("no usable transport", zap.Error(err))
		return res, err
	}
	res.Request = req
	log.Debug("transport selected", zap.Stringer("transport", req))

	if cfg.Username != "" {
		setIdentity := opts.SetIdentity
		if setIdentity == nil {
			setIdentity = SetProcessIdentity
		}
		if err := setIdentity(cfg.Username); err != nil {
			log.Error("cannot switch user", zap.String("username", cfg.Username), zap.Error(err))
			return res, err
		}
		log.Debug("running as user", zap.String("username", cfg.Username))
	}

	n := &negotiate.Negotiator{
		Opener:       opts.Opener,
		Timeout:      opts.HandshakeTimeout,
		AgentName:    opts.Name,
		Logger:       log,
		OnTransition: opts.OnTransition,
	}
	sess, err := n.Negotiate(ctx, negotiate.IdentityFrom(cfg, opts.DefaultDomain), req)
	if err != nil {
		return res, err
	}
	res.Session = sess
	return res, nil
}

// Process exit codes by failure category.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitTransport   = 3
	ExitNegotiation = 4
	ExitIdentity    = 5
)

// ExitCode maps a Bootstrap error to the process exit status.
func ExitCode(err error) int {
	var (
		pe *options.ParseError
		se *transport.SelectionError
		ne *negotiate.NegotiationError
		ie *IdentityError
	)
	switch {
	case err == nil, errors.Is(err, ErrHelp):
		return ExitOK
	case errors.As(err, &pe):
		return ExitUsage
	case errors.As(err, &se):
		return ExitTransport
	case errors.As(err, &ne):
		return ExitNegotiation
	case errors.As(err, &ie):
		return ExitIdentity
	default:
		return ExitFailure
	}
}
