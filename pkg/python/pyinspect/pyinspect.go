// Package pyinspect determines information about a Python installation by
// executing it.
package pyinspect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/datawire/dlib/dexec"

	"github.com/datawire/pyrun/pkg/python"
	"github.com/datawire/pyrun/pkg/python/pep425"
	"github.com/datawire/pyrun/pkg/python/pep508"
)

type FS interface {
	// Split mimics path/filepath.Split.
	Split(path string) (dir, file string)

	// Join mimics path/filepath.Join.
	Join(elem ...string) string

	// LookPath mimics os/exec.LookPath, but io/fs.PathError is used instead of exec.Error.
	LookPath(file string) (string, error)
}

// Shebangs takes an interpreter command (like "python3") and turns it in to a pair of paths to put
// after the "#!" in a shebang.
func Shebangs(sys FS, generic string) (console, graphical string, err error) {
	generic, err = sys.LookPath(generic)
	if err != nil {
		return "", "", err
	}

	console = generic
	if dirPart, filePart := sys.Split(console); strings.HasPrefix(filePart, "pythonw") {
		withoutW := sys.Join(dirPart, "python"+strings.TrimPrefix(filePart, "pythonw"))
		if withoutW, err := sys.LookPath(withoutW); err == nil {
			console = withoutW
		}
	}

	graphical = generic
	if dirPart, filePart := sys.Split(console); strings.HasPrefix(filePart, "python") &&
		!strings.HasPrefix(filePart, "pythonw") {
		withW := sys.Join(dirPart, "pythonw"+strings.TrimPrefix(filePart, "python"))
		if withW, err := sys.LookPath(withW); err == nil {
			graphical = withW
		}
	}

	return console, graphical, nil
}

// DynamicInfo is what an interpreter reports about itself when executed.
type DynamicInfo struct {
	Executable     string
	Prefix         string
	BasePrefix     string
	Implementation string
	MagicNumberB64 string
	Tags           pep425.Installer
	VersionInfo    python.VersionInfo
	Scheme         python.Scheme
	Markers        map[string]string
}

// MarkerEnvironment returns the PEP 508 environment marker variables of the
// inspected interpreter, with "extra" set to the empty string.
func (info *DynamicInfo) MarkerEnvironment() pep508.Environment {
	env := make(pep508.Environment, len(info.Markers)+1)
	for k, v := range info.Markers {
		env[k] = v
	}
	env["extra"] = ""
	return env
}

// The introspection snippet prefers the "packaging" and "pip" libraries when
// the interpreter has them (they are the authorities on tag order and install
// schemes), and falls back to sysconfig-derived approximations when not;
// plain interpreters from python-build-standalone have neither.
const inspectSnippet = `
import json
import os
import platform
import sys
import sysconfig
from base64 import b64encode
from importlib.util import MAGIC_NUMBER

def platforms():
    plat = sysconfig.get_platform().replace('-', '_').replace('.', '_')
    if not plat.startswith('linux_'):
        return [plat]
    arch = plat[len('linux_'):]
    try:
        glibc = os.confstr('CS_GNU_LIBC_VERSION').split()[1]
        glibc_major, glibc_minor = (int(n) for n in glibc.split('.')[:2])
    except (AttributeError, OSError, IndexError, ValueError):
        return [plat]
    if glibc_major != 2:
        return [plat]
    legacy = {17: 'manylinux2014', 12: 'manylinux2010', 5: 'manylinux1'}
    out = []
    for minor in range(glibc_minor, -1, -1):
        out.append('manylinux_2_%d_%s' % (minor, arch))
        if minor in legacy:
            out.append('%s_%s' % (legacy[minor], arch))
    out.append(plat)
    return out

def tags():
    try:
        from packaging.tags import sys_tags
    except ImportError:
        pass
    else:
        return [str(tag) for tag in sys_tags()]
    plats = platforms()
    major, minor = sys.version_info[:2]
    out = []
    if sys.implementation.name == 'cpython':
        interp = 'cp%d%d' % (major, minor)
        abi = interp
        soabi = sysconfig.get_config_var('SOABI')
        if soabi and soabi.startswith('cpython-'):
            abi = 'cp' + soabi.split('-')[1]
        out += ['%s-%s-%s' % (interp, abi, p) for p in plats]
        out += ['%s-abi3-%s' % (interp, p) for p in plats]
        out += ['%s-none-%s' % (interp, p) for p in plats]
        for m in range(minor - 1, 1, -1):
            out += ['cp%d%d-abi3-%s' % (major, m, p) for p in plats]
    versions = ['py%d%d' % (major, minor), 'py%d' % major]
    versions += ['py%d%d' % (major, m) for m in range(minor - 1, -1, -1)]
    out += ['%s-none-%s' % (v, p) for v in versions for p in plats]
    out += ['%s-none-any' % v for v in versions]
    return out

def scheme():
    try:
        from pip._internal.locations import get_scheme
    except ImportError:
        paths = sysconfig.get_paths()
        return {
            'purelib': paths['purelib'],
            'platlib': paths['platlib'],
            'headers': paths['include'],
            'scripts': paths['scripts'],
            'data': paths['data'],
        }
    s = get_scheme('')
    return {slot: getattr(s, slot) for slot in s.__slots__}

iv = sys.implementation.version
impl_ver = '%d.%d.%d' % (iv.major, iv.minor, iv.micro)
if iv.releaselevel != 'final':
    impl_ver += iv.releaselevel[0] + str(iv.serial)

version_info_slots = ['major', 'minor', 'micro', 'releaselevel', 'serial']

json.dump({
  'Executable': sys.executable,
  'Prefix': sys.prefix,
  'BasePrefix': getattr(sys, 'base_prefix', sys.prefix),
  'Implementation': sys.implementation.name,
  'MagicNumberB64': b64encode(MAGIC_NUMBER).decode('utf-8'),
  'Tags': tags(),
  'VersionInfo': {slot: getattr(sys.version_info, slot) for slot in version_info_slots},
  'Scheme': scheme(),
  'Markers': {
    'os_name': os.name,
    'sys_platform': sys.platform,
    'platform_machine': platform.machine(),
    'platform_python_implementation': platform.python_implementation(),
    'platform_release': platform.release(),
    'platform_system': platform.system(),
    'platform_version': platform.version(),
    'python_version': '.'.join(platform.python_version_tuple()[:2]),
    'python_full_version': platform.python_version(),
    'implementation_name': sys.implementation.name,
    'implementation_version': impl_ver,
  },
}, sys.stdout)
`

// Dynamic executes an interpreter (the given command line, which usually is
// just an interpreter path) and has it report about itself.
func Dynamic(ctx context.Context, cmdline ...string) (*DynamicInfo, error) {
	cmd := dexec.CommandContext(ctx, cmdline[0], append(cmdline[1:], "-c", inspectSnippet)...)
	cmd.DisableLogging = true
	bs, err := cmd.Output()
	if err != nil {
		var exitErr *dexec.ExitError
		if errors.As(err, &exitErr) {
			err = fmt.Errorf("%w:\n > %s", err,
				strings.Join(strings.Split(string(exitErr.Stderr), "\n"), "\n > "))
		}
		err = fmt.Errorf("running Python: %w", err)
		return nil, err
	}
	var data DynamicInfo
	if err := json.Unmarshal(bs, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Describe introspects an interpreter command and assembles the
// python.Platform describing it.
func Describe(ctx context.Context, sys FS, interpreter string) (*python.Platform, *DynamicInfo, error) {
	console, graphical, err := Shebangs(sys, interpreter)
	if err != nil {
		return nil, nil, err
	}
	dyn, err := Dynamic(ctx, console)
	if err != nil {
		return nil, nil, err
	}
	magic, err := base64.StdEncoding.DecodeString(dyn.MagicNumberB64)
	if err != nil {
		return nil, nil, fmt.Errorf("inspecting %s: decode MAGIC_NUMBER: %w", console, err)
	}
	plat := &python.Platform{
		ConsoleShebang:   console,
		GraphicalShebang: graphical,
		Implementation:   dyn.Implementation,
		Scheme:           dyn.Scheme,
		VersionInfo:      &dyn.VersionInfo,
		MagicNumber:      magic,
		Tags:             dyn.Tags,
	}
	if err := plat.Init(); err != nil {
		return nil, nil, err
	}
	return plat, dyn, nil
}
