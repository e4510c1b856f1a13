package cli

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/wagiedev/nvim-bridge/internal/errors"
)

const (
	// VersionCheckTimeout bounds the `nvim --version` run during discovery.
	VersionCheckTimeout = 2 * time.Second

	// SkipVersionCheckEnv disables the version check when set to any value.
	SkipVersionCheckEnv = "NVIM_BRIDGE_SKIP_VERSION_CHECK"

	binaryName = "nvim"
)

// MinimumVersion is the oldest release with nvim_ui_attach and ext_linegrid.
var MinimumVersion = Version{Major: 0, Minor: 5}

// Version is a Neovim release number. Prerelease suffixes are dropped.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or +1 as v is older than, equal to or newer than o.
func (v Version) Compare(o Version) int {
	return cmp.Or(
		cmp.Compare(v.Major, o.Major),
		cmp.Compare(v.Minor, o.Minor),
		cmp.Compare(v.Patch, o.Patch),
	)
}

var versionPattern = regexp.MustCompile(`NVIM v(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersion reads the release from `nvim --version` output.
func ParseVersion(output string) (Version, bool) {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return Version{}, false
	}

	var v Version

	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])

	if m[3] != "" {
		v.Patch, _ = strconv.Atoi(m[3])
	}

	return v, true
}

// Config holds configuration for nvim discovery.
type Config struct {
	// NvimPath is used as is when set; nothing else is searched.
	NvimPath string

	// SkipVersionCheck skips running `nvim --version`.
	// Setting NVIM_BRIDGE_SKIP_VERSION_CHECK has the same effect.
	SkipVersionCheck bool

	// Logger receives discovery diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Discoverer resolves which nvim binary to embed.
type Discoverer interface {
	// Discover returns the path of the nvim binary, or an
	// *errors.NvimNotFoundError listing every place that was tried.
	Discover(ctx context.Context) (string, error)
}

type discoverer struct {
	cfg *Config
	log *slog.Logger
}

var _ Discoverer = (*discoverer)(nil)

// NewDiscoverer creates a Discoverer. A nil cfg searches with defaults.
func NewDiscoverer(cfg *Config) Discoverer {
	if cfg == nil {
		cfg = &Config{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &discoverer{cfg: cfg, log: log.With("component", "discovery")}
}

func (d *discoverer) Discover(ctx context.Context) (string, error) {
	path, source, err := d.resolve()
	if err != nil {
		d.log.Error("No nvim binary available", "error", err)

		return "", err
	}

	d.log.Debug("Resolved nvim binary", "nvim_path", path, "source", source)

	if d.versionCheckEnabled() {
		d.warnIfOutdated(ctx, path)
	}

	return path, nil
}

// resolve walks the configured path, then PATH, then the usual install
// locations for this platform.
func (d *discoverer) resolve() (path, source string, err error) {
	if explicit := d.cfg.NvimPath; explicit != "" {
		if isFile(explicit) {
			return explicit, "configured", nil
		}

		return "", "", &errors.NvimNotFoundError{SearchedPaths: []string{explicit}}
	}

	tried := []string{"$PATH"}

	if found, lookErr := exec.LookPath(binaryName); lookErr == nil {
		return found, "PATH", nil
	}

	home, _ := os.UserHomeDir()

	for _, candidate := range installLocations(runtime.GOOS, home) {
		tried = append(tried, candidate)

		if isFile(candidate) {
			return candidate, "install location", nil
		}
	}

	return "", "", &errors.NvimNotFoundError{SearchedPaths: tried}
}

// installLocations lists where package managers and version managers put
// nvim when it is not on PATH, as for a UI launched from a desktop session.
func installLocations(goos, home string) []string {
	var paths []string

	switch goos {
	case "darwin":
		paths = append(paths, "/opt/homebrew/bin/nvim", "/usr/local/bin/nvim", "/opt/local/bin/nvim")
	case "windows":
		paths = append(paths, `C:\Program Files\Neovim\bin\nvim.exe`)
	default:
		paths = append(paths, "/usr/local/bin/nvim", "/usr/bin/nvim", "/snap/bin/nvim", "/var/lib/flatpak/exports/bin/io.neovim.nvim")
	}

	if home != "" && goos != "windows" {
		paths = append(paths,
			filepath.Join(home, ".local", "bin", "nvim"),
			filepath.Join(home, ".local", "share", "bob", "nvim-bin", "nvim"),
		)
	}

	return paths
}

func isFile(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}

func (d *discoverer) versionCheckEnabled() bool {
	if d.cfg.SkipVersionCheck {
		return false
	}

	if os.Getenv(SkipVersionCheckEnv) != "" {
		d.log.Debug("Version check disabled by environment", "env", SkipVersionCheckEnv)

		return false
	}

	return true
}

// warnIfOutdated runs `nvim --version` and logs when the release predates
// MinimumVersion. It never fails discovery: an nvim that cannot report its
// version is left for the handshake to reject.
func (d *discoverer) warnIfOutdated(ctx context.Context, path string) {
	ctx, cancel := context.WithTimeout(ctx, VersionCheckTimeout)
	defer cancel()

	//nolint:gosec // G204: the binary path comes from discovery
	output, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		d.log.Debug("Could not run nvim --version", "nvim_path", path, "error", err)

		return
	}

	version, ok := ParseVersion(string(output))
	if !ok {
		firstLine, _, _ := strings.Cut(string(output), "\n")
		d.log.Debug("Unrecognized nvim --version output", "first_line", firstLine)

		return
	}

	if version.Compare(MinimumVersion) < 0 {
		d.log.Warn("nvim release predates the supported minimum",
			"version", version.String(),
			"minimum", MinimumVersion.String(),
		)
	}
}
