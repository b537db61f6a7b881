package lsp

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/dshills/scame/internal/logging"
)

// virtualEnvDirs are checked in order under the working directory.
var virtualEnvDirs = []string{".venv", "venv", "env"}

// Process is a running language server with piped stdio.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Terminate closes stdin, kills the process and reaps it.
	// It is safe to call more than once.
	Terminate() error
}

// Launcher starts cmd. env holds KEY=VALUE pairs added to the inherited
// environment.
type Launcher func(cmd Command, env []string) (Process, error)

// ExecLauncher returns a Launcher that runs commands as child processes in dir.
// Stderr is discarded.
func ExecLauncher(dir string) Launcher {
	return func(c Command, env []string) (Process, error) {
		cmd := exec.Command(c.Name, c.Args...)
		cmd.Env = append(os.Environ(), env...)
		cmd.Dir = dir

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, errors.Wrap(err, "stdin pipe")
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			stdin.Close()
			return nil, errors.Wrap(err, "stdout pipe")
		}

		if err := cmd.Start(); err != nil {
			stdin.Close()
			stdout.Close()
			return nil, errors.Wrapf(err, "start %s", c.Name)
		}

		return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
	}
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	once sync.Once
	err  error
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }

func (p *execProcess) Terminate() error {
	p.once.Do(func() {
		p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		// Wait closes stdout, which ends the dispatcher's read loop.
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.err = errors.Wrap(err, "wait")
		}
	})
	return p.err
}

// Supervisor spawns language servers, trying fallback commands in order.
type Supervisor struct {
	launch  Launcher
	workDir string
	log     *logrus.Entry
}

// NewSupervisor creates a supervisor that launches processes with launch.
func NewSupervisor(launch Launcher, workDir string, log *logrus.Entry) *Supervisor {
	return &Supervisor{
		launch:  launch,
		workDir: workDir,
		log:     logging.WithComponent(log, "lsp.supervisor"),
	}
}

// Start launches the first candidate of spec that starts successfully.
// It returns the process and the command that was used.
func (s *Supervisor) Start(spec ServerSpec) (Process, Command, error) {
	lang := spec.Language.ID()
	log := s.log.WithField("language", lang)

	var env []string
	if spec.DetectVirtualEnv {
		if venv, ok := findVirtualEnv(s.workDir); ok {
			env = append(env, "VIRTUAL_ENV="+venv)
			log.WithField("virtual_env", venv).Debug("using virtual environment")
		}
	}

	var (
		attempts []string
		lastErr  error
	)
	for _, c := range spec.Candidates() {
		if c.Name == "" {
			continue
		}
		attempts = append(attempts, c.String())

		proc, err := s.launch(c, env)
		if err == nil {
			log.WithField("command", c.String()).Info("language server started")
			return proc, c, nil
		}
		log.WithError(err).WithField("command", c.String()).Debug("launch candidate failed")
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("no command configured")
	}
	return nil, Command{}, &ProcessSpawnError{
		LanguageID: lang,
		Attempts:   attempts,
		Hint:       spec.InstallHint,
		Err:        lastErr,
	}
}

// findVirtualEnv returns the absolute path of the first virtual environment
// directory found under dir.
func findVirtualEnv(dir string) (string, bool) {
	for _, name := range virtualEnvDirs {
		path, err := filepath.Abs(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path, true
		}
	}
	return "", false
}
