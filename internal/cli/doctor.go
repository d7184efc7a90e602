package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/tobert/pmda-agent/internal/options"
	"github.com/tobert/pmda-agent/internal/transport"
)

// DoctorCommand returns the CLI command definition for the 'doctor' subcommand.
// This command runs diagnostic checks to verify the agent can be started by pmcd.
func DoctorCommand(a *Agent) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Diagnose common setup and configuration issues",
		Description: `Run checks to verify the agent is ready to be started by pmcd.

This command checks:
  - Binary location and permissions
  - Configuration files (PMDA_CONFIG, per-user and system)
  - Socket and log directories
  - Metric help text
  - IPv6 support and the pcp user account

Exit codes:
  0 - All critical checks passed
  1 - One or more issues found`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runDoctor(a)
		},
	}
}

type checkResult struct {
	Name       string
	Status     string // "pass", "warn", "fail"
	Message    string
	Suggestion string
	IsCritical bool
}

type fsUtils interface {
	Executable() (string, error)
	Stat(name string) (os.FileInfo, error)
	Getenv(key string) string
	LookupUser(name string) (*user.User, error)
	LoadConfig(path string) (*Config, error)
	Platform() transport.Platform
}

type realFsUtils struct{}

func (r *realFsUtils) Executable() (string, error)                { return os.Executable() }
func (r *realFsUtils) Stat(name string) (os.FileInfo, error)      { return os.Stat(name) }
func (r *realFsUtils) Getenv(key string) string                   { return os.Getenv(key) }
func (r *realFsUtils) LookupUser(name string) (*user.User, error) { return user.Lookup(name) }
func (r *realFsUtils) LoadConfig(path string) (*Config, error)    { return LoadEffectiveConfig(path) }
func (r *realFsUtils) Platform() transport.Platform               { return transport.HostPlatform() }

// doctor carries what the checks share.
type doctor struct {
	agent  *Agent
	utils  fsUtils
	config *Config
	cfgErr error
}

func runDoctor(a *Agent) error {
	return runDoctorWithUtils(a, &realFsUtils{}, a.stdout())
}

func runDoctorWithUtils(a *Agent, utils fsUtils, w io.Writer) error {
	fmt.Fprintf(w, "🔍 %s doctor v%s\n\n", a.Name, a.Version)

	d := &doctor{agent: a, utils: utils}
	d.config, d.cfgErr = utils.LoadConfig(utils.Getenv(ConfigEnv))

	checks := []func(d *doctor) checkResult{
		checkBinaryLocation,
		checkBinaryExecutable,
		checkConfig,
		checkSocketDir,
		checkLogDir,
		checkHelpText,
		checkIPv6,
		checkPCPUser,
	}

	results := make([]checkResult, 0, len(checks))
	for _, check := range checks {
		result := check(d)
		results = append(results, result)
		printCheckResult(w, result)
	}

	fmt.Fprintln(w)
	summary := summarizeResults(results)
	printSummary(w, a.Name, summary)

	if summary.FailCount > 0 {
		return fmt.Errorf("found %d issues that need attention", summary.FailCount)
	}

	return nil
}

func printCheckResult(w io.Writer, result checkResult) {
	var icon string
	switch result.Status {
	case "pass":
		icon = "✓"
	case "warn":
		icon = "⚠"
	case "fail":
		icon = "✗"
	}

	fmt.Fprintf(w, "%s %s\n", icon, result.Message)

	if result.Suggestion != "" {
		fmt.Fprintf(w, "  %s\n", result.Suggestion)
	}
}

type resultSummary struct {
	PassCount int
	WarnCount int
	FailCount int
}

func summarizeResults(results []checkResult) resultSummary {
	var summary resultSummary
	for _, r := range results {
		switch r.Status {
		case "pass":
			summary.PassCount++
		case "warn":
			summary.WarnCount++
		case "fail":
			summary.FailCount++
		}
	}
	return summary
}

func printSummary(w io.Writer, name string, summary resultSummary) {
	if summary.FailCount > 0 {
		fmt.Fprintf(w, "❌ Found %d issue(s) that need attention\n", summary.FailCount)
		if summary.WarnCount > 0 {
			fmt.Fprintf(w, "⚠️  %d warning(s)\n", summary.WarnCount)
		}
	} else if summary.WarnCount > 0 {
		fmt.Fprintf(w, "✅ All critical checks passed!\n")
		fmt.Fprintf(w, "⚠️  %d optional warning(s)\n", summary.WarnCount)
		fmt.Fprintf(w, "💡 Add %s to pmcd.conf or run '%s --help' for options\n", name, name)
	} else {
		fmt.Fprintf(w, "✅ All checks passed!\n")
		fmt.Fprintf(w, "💡 Add %s to pmcd.conf or run '%s --help' for options\n", name, name)
	}
}

// Check 1: Binary location
func checkBinaryLocation(d *doctor) checkResult {
	executable, err := d.utils.Executable()
	if err != nil {
		return checkResult{
			Name:       "binary_location",
			Status:     "fail",
			Message:    "Could not determine binary location",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}

	absPath, err := filepath.Abs(executable)
	if err != nil {
		absPath = executable
	}

	return checkResult{
		Name:    "binary_location",
		Status:  "pass",
		Message: fmt.Sprintf("Binary location: %s", absPath),
	}
}

// Check 2: Binary executable
func checkBinaryExecutable(d *doctor) checkResult {
	executable, err := d.utils.Executable()
	if err != nil {
		return checkResult{
			Name:       "binary_executable",
			Status:     "fail",
			Message:    "Could not check if binary is executable",
			IsCritical: true,
		}
	}

	info, err := d.utils.Stat(executable)
	if err != nil || info == nil {
		return checkResult{
			Name:       "binary_executable",
			Status:     "fail",
			Message:    "Could not stat binary",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}
	}

	if info.Mode()&0111 == 0 {
		return checkResult{
			Name:       "binary_executable",
			Status:     "fail",
			Message:    "Binary is not executable",
			Suggestion: fmt.Sprintf("Run: chmod +x %s", executable),
			IsCritical: true,
		}
	}

	return checkResult{
		Name:    "binary_executable",
		Status:  "pass",
		Message: "Binary is executable",
	}
}

// Check 3: configuration files parse and validate
func checkConfig(d *doctor) checkResult {
	if d.cfgErr != nil {
		return checkResult{
			Name:       "config",
			Status:     "fail",
			Message:    "Configuration could not be loaded",
			Suggestion: fmt.Sprintf("Error: %v", d.cfgErr),
			IsCritical: true,
		}
	}

	source := "built-in defaults"
	if explicit := d.utils.Getenv(ConfigEnv); explicit != "" {
		source = explicit
	}
	return checkResult{
		Name:    "config",
		Status:  "pass",
		Message: fmt.Sprintf("Configuration loaded (%s, socket %s)", source, d.config.TransportDefaults(d.agent.Name).UnixPath),
	}
}

// Check 4: the default UNIX socket can be created
func checkSocketDir(d *doctor) checkResult {
	if d.config == nil {
		return skipped("socket_dir")
	}
	return checkDir(d, "socket_dir", "Socket directory", d.config.SocketDir, "fail")
}

// Check 5: the default log file can be created
func checkLogDir(d *doctor) checkResult {
	if d.config == nil {
		return skipped("log_dir")
	}
	return checkDir(d, "log_dir", "Log directory", d.config.LogDir, "warn")
}

func checkDir(d *doctor, name, label, dir, missing string) checkResult {
	info, err := d.utils.Stat(dir)
	if err != nil {
		return checkResult{
			Name:       name,
			Status:     missing,
			Message:    fmt.Sprintf("%s %s not found", label, dir),
			Suggestion: fmt.Sprintf("Run: mkdir -p %s", dir),
			IsCritical: missing == "fail",
		}
	}
	if !info.IsDir() {
		return checkResult{
			Name:       name,
			Status:     "fail",
			Message:    fmt.Sprintf("%s %s is not a directory", label, dir),
			IsCritical: true,
		}
	}
	return checkResult{
		Name:    name,
		Status:  "pass",
		Message: fmt.Sprintf("%s: %s", label, dir),
	}
}

// Check 6: metric help text
func checkHelpText(d *doctor) checkResult {
	if d.config == nil {
		return skipped("help_text")
	}
	path := d.config.HelpPath(d.agent.Name)
	if _, err := d.utils.Stat(path); err != nil {
		return checkResult{
			Name:       "help_text",
			Status:     "warn",
			Message:    fmt.Sprintf("Optional: help text %s not found", path),
			Suggestion: fmt.Sprintf("Install it there or pass %s=FILE", HelpfileOption.Flag()),
		}
	}
	return checkResult{
		Name:    "help_text",
		Status:  "pass",
		Message: fmt.Sprintf("Help text: %s", path),
	}
}

// Check 7: --ipv6 availability
func checkIPv6(d *doctor) checkResult {
	if err := d.utils.Platform().Supports(options.TransportIPv6); err != nil {
		return checkResult{
			Name:       "ipv6",
			Status:     "warn",
			Message:    "Optional: IPv6 transport unavailable",
			Suggestion: fmt.Sprintf("Use --unix or --inet instead (%v)", err),
		}
	}
	return checkResult{
		Name:    "ipv6",
		Status:  "pass",
		Message: "IPv6 transport available",
	}
}

// Check 8: the account pmcd usually runs agents as
func checkPCPUser(d *doctor) checkResult {
	u, err := d.utils.LookupUser("pcp")
	if err != nil {
		return checkResult{
			Name:       "pcp_user",
			Status:     "warn",
			Message:    "Optional: user 'pcp' not found",
			Suggestion: "Pass --username to run the agent as another account",
		}
	}
	return checkResult{
		Name:    "pcp_user",
		Status:  "pass",
		Message: fmt.Sprintf("User 'pcp' exists (uid %s)", u.Uid),
	}
}

func skipped(name string) checkResult {
	return checkResult{
		Name:    name,
		Status:  "warn",
		Message: fmt.Sprintf("Skipped %s check: no usable configuration", name),
	}
}
