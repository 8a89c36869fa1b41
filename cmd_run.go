package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dexec"
	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/datawire/pyrun/pkg/cache"
	"github.com/datawire/pyrun/pkg/cliutil"
	"github.com/datawire/pyrun/pkg/project"
	"github.com/datawire/pyrun/pkg/python"
	"github.com/datawire/pyrun/pkg/python/lockfile"
	"github.com/datawire/pyrun/pkg/python/pep376"
	"github.com/datawire/pyrun/pkg/python/pep508"
	"github.com/datawire/pyrun/pkg/python/pypa/bdist"
	"github.com/datawire/pyrun/pkg/python/pypa/direct_url"
	"github.com/datawire/pyrun/pkg/python/pypa/entry_points"
	"github.com/datawire/pyrun/pkg/python/pypa/recording_installs"
	"github.com/datawire/pyrun/pkg/python/resolver"
	"github.com/datawire/pyrun/pkg/python/venv"
)

func init() {
	var flags struct {
		With      []string
		NoProject bool
		Python    string
		IndexURL  string
		Isolated  bool
		Compile   bool
	}
	cmd := &cobra.Command{
		Use:   "run [flags] {SCRIPT.py|-} [ARGS...]",
		Short: "Run a standalone Python script",
		Long: "Run a Python script in an environment holding exactly the dependencies " +
			"that the script declares in its inline metadata block (plus any --with " +
			"additions), no matter what is or isn't installed on the system." +
			"\n\n" +
			"Arguments after the script path are passed to the script untouched; flags " +
			"for pyrun itself must come before it.  \"-\" runs a script from stdin." +
			"\n\n" +
			"Resolutions and environments are cached under `pyrun cache dir`, keyed " +
			"by the requirement set and the interpreter, so a second run with " +
			"unchanged inputs starts without touching the network.  A fresh " +
			"SCRIPT.py.lock (see `pyrun lock`) pins the resolution itself.",
		Args: cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			script, err := loadScript(args[0])
			if err != nil {
				return err
			}
			defer script.Close()

			md, err := scriptMetadata(script.Display, script.Source)
			if err != nil {
				return err
			}

			// A script is run standalone even inside a project checkout;
			// the discovery exists so that we can say so out loud.
			if !flags.NoProject {
				startDir := filepath.Dir(script.Path)
				if script.Display == "-" {
					startDir = "."
				}
				if proj, err := project.Discover(startDir); err == nil && proj != nil {
					dlog.Warnf(ctx, "ignoring project at %q; running %q as a standalone script (--no-project silences this)",
						proj.Dir, script.Display)
				}
			}

			c, err := cache.Open()
			if err != nil {
				return err
			}
			d, err := newDiscovery(c)
			if err != nil {
				return err
			}
			in, err := findInterpreter(ctx, d, flags.Python, md)
			if err != nil {
				return err
			}
			res, err := newResolver(c, in, flags.IndexURL, md)
			if err != nil {
				return err
			}

			reqs, err := md.Requirements()
			if err != nil {
				return fmt.Errorf("%s: %w", script.Display, err)
			}
			for _, str := range flags.With {
				req, err := pep508.ParseRequirement(str)
				if err != nil {
					return fmt.Errorf("--with=%q: %w", str, err)
				}
				reqs = append(reqs, req)
			}

			// A lockfile pins the resolution of the *declared* dependencies;
			// --with changes the requirement set, so it bypasses the
			// lockfile entirely.
			var pins []resolver.Pin
			lockPath := script.LockPath()
			refreshLock := false
			if lockPath != "" && len(flags.With) == 0 {
				old, err := lockfile.Load(lockPath)
				if err != nil && !errors.Is(err, fs.ErrNotExist) {
					return err
				}
				if old != nil {
					if old.Fresh(md.RequiresPython, md.Dependencies, md.Tool.Pyrun.ExcludeNewer) {
						dlog.Debugf(ctx, "lockfile %q is up to date", lockPath)
						if pins, err = lockfilePins(old); err != nil {
							return err
						}
					} else {
						refreshLock = true
					}
				}
			}
			if pins == nil {
				pins, err = resolvePins(ctx, c, res, &in.Platform, md, reqs, script.Display, flags.Isolated)
				if err != nil {
					return err
				}
			}

			lf := newLockfile(md, pins)
			if refreshLock {
				if err := lf.Save(lockPath); err != nil {
					return err
				}
				dlog.Infof(ctx, "updated lockfile %q", lockPath)
			}

			env, err := venv.Ensure(ctx, c, lf.EnvKey(&in.Platform), &in.Platform, flags.Isolated,
				func(ctx context.Context, env *python.Platform) error {
					if err := installPins(ctx, res, env, pins, reqs); err != nil {
						return err
					}
					if flags.Compile {
						dirs := []string{env.Scheme.PureLib}
						if env.Scheme.PlatLib != env.Scheme.PureLib {
							dirs = append(dirs, env.Scheme.PlatLib)
						}
						return python.CompileAll(ctx, env.ConsoleShebang, dirs...)
					}
					return nil
				})
			if err != nil {
				return err
			}

			return execScript(ctx, env, scriptInterpreter(env, script), script.Path, args[1:])
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringArrayVar(&flags.With, "with", nil,
		"Run with the given `REQUIREMENT` additionally installed (repeatable)")
	cmd.Flags().BoolVar(&flags.NoProject, "no-project", false,
		"Do not look for a pyproject.toml in the parent directories")
	cmd.Flags().StringVar(&flags.Python, "python", "",
		"The Python `VERSION` to run under: \"3\", \"3.12\", \"3.12.1\", or a specifier set like \">=3.10\"")
	cmd.Flags().StringVar(&flags.IndexURL, "index-url", "",
		"Base `URL` of the package index (default $"+EnvIndexURL+", then PyPI)")
	cmd.Flags().BoolVar(&flags.Isolated, "isolated", false,
		"Ignore any recorded resolution and cached environment, and build fresh ones")
	cmd.Flags().BoolVar(&flags.Compile, "compile-bytecode", false,
		"Byte-compile installed packages when building the environment")

	argparser.AddCommand(cmd)
}

// installPins installs the pinned wheels in to an environment.  The root
// requirement set drives the install records: packages the user asked for by
// name get a PEP 376 REQUESTED marker, and packages the user asked for by URL
// get a PEP 610 direct_url.json.
func installPins(
	ctx context.Context,
	res *resolver.Resolver,
	env *python.Platform,
	pins []resolver.Pin,
	reqs []*pep508.Requirement,
) error {
	requested := make(map[string]bool, len(reqs))
	direct := make(map[string]bool)
	for _, req := range reqs {
		requested[req.NormalizedName()] = true
		if req.URL != "" {
			direct[req.NormalizedName()] = true
		}
	}

	if err := res.Download(ctx, pins); err != nil {
		return err
	}
	for _, pin := range pins {
		wheelPath, err := res.WheelPath(ctx, pin)
		if err != nil {
			return err
		}

		var requestedHook bdist.PostInstallHook
		if requested[pin.Name] {
			requestedHook = pep376.RecordRequested("")
		}
		var urlData *direct_url.DirectURL
		if direct[pin.Name] {
			urlData = &direct_url.DirectURL{
				URL:         pin.URL,
				ArchiveInfo: &direct_url.ArchiveInfo{Hash: "sha256=" + pin.SHA256},
			}
		}

		dlog.Infof(ctx, "installing %s==%s", pin.Name, pin.Version)
		if _, err := bdist.InstallWheel(ctx, *env, wheelPath, bdist.PostInstallHooks(
			entry_points.CreateScripts,
			requestedHook,
			recording_installs.Record("sha256", "pyrun", urlData),
		)); err != nil {
			return err
		}
	}
	return nil
}

// execScript hands the terminal over to the script.  The child's streams are
// untouched, and its exit code comes back as an exitCodeError so that main()
// can pass it along.
func execScript(ctx context.Context, env *python.Platform, interpreter, scriptPath string, args []string) error {
	cmd := dexec.CommandContext(ctx, interpreter, append([]string{scriptPath}, args...)...)
	cmd.DisableLogging = true
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	// Mirror what `activate` would do, for the benefit of subprocesses that
	// the script itself launches.  Scheme.Data is the environment root.
	environ := overrideEnv(os.Environ(), "VIRTUAL_ENV", env.Scheme.Data)
	environ = overrideEnv(environ, "PATH",
		env.Scheme.Scripts+string(os.PathListSeparator)+os.Getenv("PATH"))
	cmd.Env = environ

	dlog.Debugf(ctx, "running %q", append([]string{interpreter, scriptPath}, args...))
	if err := cmd.Run(); err != nil {
		var exitErr *dexec.ExitError
		if errors.As(err, &exitErr) {
			return exitCodeError(exitErr.ExitCode())
		}
		return err
	}
	return nil
}
