package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/tobert/pmda-agent/internal/agent"
	"github.com/tobert/pmda-agent/internal/options"
	"github.com/tobert/pmda-agent/internal/transport"
)

// ConfigEnv names an explicit config file.
const ConfigEnv = "PMDA_CONFIG"

// HelpfileOption points the agent at its metric help text.
var HelpfileOption = options.OptionSpec{Long: "helpfile", Arg: options.RequiredArgument, ArgName: "FILE",
	Help: "read metric help text from FILE", Tag: options.TagCustom}

// Agent describes one PMDA binary.
type Agent struct {
	Name          string
	Usage         string
	Version       string
	DefaultDomain int
	Extra         []options.OptionSpec // agent-specific options beyond the standard set

	Stdout io.Writer
	Stderr io.Writer

	// onListen lets tests attach a collector to the agent's listener.
	onListen func(net.Addr)
}

func (a *Agent) stdout() io.Writer {
	if a.Stdout == nil {
		return os.Stdout
	}
	return a.Stdout
}

func (a *Agent) stderr() io.Writer {
	if a.Stderr == nil {
		return os.Stderr
	}
	return a.Stderr
}

// Catalog is the standard PMDA option set plus the agent's own options.
func (a *Agent) Catalog() (*options.Catalog, error) {
	return options.DefaultCatalog().Extend(a.Extra...)
}

// RootCommand returns the agent's command tree. The root action hands its
// arguments untouched to the PMDA option parser, so pmcd can start the
// agent with the usual -d/-l/-u style flags.
func RootCommand(a *Agent) *cli.Command {
	return &cli.Command{
		Name:            a.Name,
		Usage:           a.Usage,
		Version:         a.Version,
		SkipFlagParsing: true,
		HideHelp:        true,
		HideVersion:     true,
		Writer:          a.stdout(),
		ErrWriter:       a.stderr(),
		Commands: []*cli.Command{
			DoctorCommand(a),
			OptionsCommand(a),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runAgent(ctx, a, cmd.Args().Slice())
		},
	}
}

// Main runs the command tree with args (program name first), reports any
// error on stderr and returns the process exit code.
func Main(ctx context.Context, a *Agent, args []string) int {
	err := RootCommand(a).Run(ctx, args)
	if err == nil || errors.Is(err, agent.ErrHelp) {
		return agent.ExitOK
	}

	fmt.Fprintf(a.stderr(), "❌ error: %v\n", err)
	var pe *options.ParseError
	if errors.As(err, &pe) {
		if catalog, cerr := a.Catalog(); cerr == nil {
			_ = options.WriteUsage(a.stderr(), a.Name, catalog)
		}
	}
	return agent.ExitCode(err)
}

// runAgent registers the agent with the collector and holds the session
// until a signal arrives or the collector goes away.
func runAgent(ctx context.Context, a *Agent, args []string) error {
	catalog, err := a.Catalog()
	if err != nil {
		return err
	}
	bootstrap := agent.Options{
		Name:    a.Name,
		Catalog: catalog,
		Usage:   a.stderr(),
	}

	// Help and usage errors must not depend on a readable site config.
	parsed, err := agent.ParseArgs(args, bootstrap)
	if err != nil {
		return err
	}

	cfg, err := LoadEffectiveConfig(os.Getenv(ConfigEnv))
	if err != nil {
		return err
	}
	acceptTimeout, handshakeTimeout, err := cfg.Timeouts()
	if err != nil {
		return err
	}

	bootstrap.DefaultDomain = a.DefaultDomain
	if cfg.DefaultDomain > 0 {
		bootstrap.DefaultDomain = cfg.DefaultDomain
	}
	bootstrap.Defaults = cfg.TransportDefaults(a.Name)
	bootstrap.Opener = &transport.Opener{
		AcceptTimeout: acceptTimeout,
		OnListen:      a.onListen,
	}
	bootstrap.HandshakeTimeout = handshakeTimeout
	bootstrap.LoggerFor = func(opts *options.AgentConfig) (*zap.Logger, error) {
		return NewLogger(cfg, a.Name, opts, a.stderr())
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := agent.Run(ctx, parsed, bootstrap)
	defer func() { _ = res.Logger.Sync() }()
	if err != nil {
		return err
	}
	defer res.Session.Close()

	log := res.Logger
	helpfile, ok := res.Config.CustomValue(HelpfileOption.Long)
	if !ok {
		helpfile = cfg.HelpPath(a.Name)
	}
	if _, err := os.Stat(helpfile); err != nil {
		log.Warn("metric help text unavailable", zap.String("helpfile", helpfile), zap.Error(err))
	}

	log.Info("agent ready", zap.Stringer("session", res.Session))

	// Requests are not served; only a hangup ends the session early.
	hangup := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, res.Session.Conn())
		hangup <- err
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down", zap.Error(context.Cause(ctx)))
		return nil
	case err := <-hangup:
		if err != nil {
			return fmt.Errorf("collector connection lost: %w", err)
		}
		log.Info("collector closed the connection")
		return nil
	}
}
