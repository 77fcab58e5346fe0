// Package shell is the interactive front end: load or generate a count
// table, fit a Dirichlet-multinomial prior to it, and inspect or export
// the shrunken estimates.
package shell

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog/log"

	"github.com/domino14/dirimult/config"
	"github.com/domino14/dirimult/dirmult"
)

var (
	errNoData            = errors.New("no data in this line")
	errWrongOptionSyntax = errors.New("wrong format; all options need arguments")
	errNoMatrix          = errors.New("no count table loaded; use `load`, `loaddb` or `gen` first")
	errNoModel           = errors.New("no fitted model; run `fit` first")
	errFitting           = errors.New("a fit is already running; do a `fit stop` first")
)

type shellcmd struct {
	cmd     string
	args    []string
	options map[string]string
}

func extractFields(line string) (*shellcmd, error) {
	fields, err := shellquote.Split(line)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errNoData
	}
	cmd := fields[0]
	var args []string
	options := map[string]string{}
	lastWasOption := false
	lastOption := ""
	for _, field := range fields[1:] {
		if strings.HasPrefix(field, "-") {
			lastWasOption = true
			lastOption = field[1:]
			continue
		}
		if lastWasOption {
			options[lastOption] = field
			lastWasOption = false
		} else {
			args = append(args, field)
		}
	}
	if lastWasOption {
		return nil, errWrongOptionSyntax
	}
	return &shellcmd{cmd: cmd, args: args, options: options}, nil
}

type ShellController struct {
	l          *readline.Instance
	config     *config.Config
	execPath   string
	gitVersion string

	options *ShellOptions

	matrix  *dirmult.CountMatrix
	model   *dirmult.FittedModel
	weights []float64

	estimator     *dirmult.Estimator
	fitCtx        context.Context
	fitCancel     context.CancelFunc
	fitTicker     *time.Ticker
	fitTickerDone chan bool
	fitLogFile    *os.File
}

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func writeln(msg string, w io.Writer) {
	io.WriteString(w, msg)
	io.WriteString(w, "\n")
}

func (sc *ShellController) showMessage(msg string) {
	writeln(msg, sc.l.Stderr())
}

func (sc *ShellController) showError(err error) {
	sc.showMessage("Error: " + err.Error())
}

func NewShellController(cfg *config.Config, execPath string, gitVersion string) *ShellController {
	sc := &ShellController{
		config:     cfg,
		execPath:   execPath,
		gitVersion: gitVersion,
		options:    NewShellOptions(cfg),
		estimator:  dirmult.NewEstimator(),
	}
	l, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[31mdirimult>\033[0m ",
		HistoryFile:     "/tmp/dirimult-readline.tmp",
		EOFPrompt:       "exit",
		InterruptPrompt: "^C",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
		AutoComplete:        NewShellCompleter(sc),
	})
	if err != nil {
		panic(err)
	}
	sc.l = l
	return sc
}

func (sc *ShellController) executeCommand(sig chan os.Signal, cmd *shellcmd) (*Response, error) {
	switch cmd.cmd {
	case "load":
		return sc.load(cmd)
	case "loaddb":
		return sc.loaddb(cmd)
	case "unload":
		return sc.unload(cmd)
	case "gen":
		return sc.generate(cmd)
	case "fit":
		return sc.fit(cmd)
	case "alphas":
		return sc.alphas(cmd)
	case "shrink":
		return sc.shrink(cmd)
	case "score":
		return sc.score(cmd)
	case "set":
		return sc.set(cmd)
	case "export":
		return sc.export(cmd)
	case "log":
		return sc.logCmd(cmd)
	case "script":
		return sc.script(cmd)
	case "show":
		return sc.show(cmd)
	case "help":
		return sc.help(cmd)
	case "exit", "bye":
		sig <- syscall.SIGINT
		return nil, nil
	default:
		log.Info().Msgf("command %v not found", cmd.cmd)
		return nil, errors.New("command " + cmd.cmd + " not found")
	}
}

func (sc *ShellController) handle(sig chan os.Signal, line string) {
	cmd, err := extractFields(line)
	if err != nil {
		if errors.Is(err, errNoData) {
			return
		}
		sc.showError(err)
		return
	}
	resp, err := sc.executeCommand(sig, cmd)
	if err != nil {
		sc.showError(err)
	} else if resp != nil {
		sc.showMessage(resp.message)
	}
}

// Execute runs a single command line, for one-shot invocations.
func (sc *ShellController) Execute(sig chan os.Signal, line string) {
	sc.handle(sig, line)
}

func (sc *ShellController) Loop(sig chan os.Signal) {

	defer sc.l.Close()

	for {
		line, err := sc.l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				sig <- syscall.SIGINT
				break
			} else {
				continue
			}
		} else if err == io.EOF {
			sig <- syscall.SIGINT
			break
		}
		line = strings.TrimSpace(line)
		if line == "exit" || line == "bye" {
			sig <- syscall.SIGINT
			break
		}
		sc.handle(sig, line)
	}
	log.Debug().Msgf("Exiting readline loop...")
}

func (sc *ShellController) Cleanup() {
	if sc.estimator.IsFitting() && sc.fitCancel != nil {
		sc.fitCancel()
	}
	if sc.fitLogFile != nil {
		sc.fitLogFile.Close()
	}
}
