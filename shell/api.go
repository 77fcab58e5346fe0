package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/domino14/dirimult/config"
	"github.com/domino14/dirimult/countio"
	"github.com/domino14/dirimult/dirmult"
	"github.com/domino14/dirimult/report"
)

type Response struct {
	message string
}

func msg(message string) *Response {
	return &Response{message: message}
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (sc *ShellController) setMatrix(cm *dirmult.CountMatrix) {
	sc.matrix = cm
	// A model fitted to a previous table no longer matches the columns.
	sc.model = nil
	sc.weights = nil
}

func (sc *ShellController) matrixSummary() string {
	cm := sc.matrix
	return fmt.Sprintf("loaded %d entities × %d categories (%s); %d rows usable",
		cm.Rows(), cm.NumCategories(), strings.Join(cm.Categories(), ", "),
		cm.UsableRows())
}

func (sc *ShellController) newReport() (*report.Report, error) {
	rep := report.New(sc.matrix, sc.model)
	rep.SetConfidence(sc.config.GetFloat64(config.ConfigConfidence))
	if sc.weights != nil {
		if err := rep.SetWeights(sc.weights); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

func (sc *ShellController) parameterText() string {
	rep := report.New(sc.matrix, sc.model)
	rep.SetConfidence(sc.config.GetFloat64(config.ConfigConfidence))
	return rep.ParameterTable()
}

func (sc *ShellController) load(cmd *shellcmd) (*Response, error) {
	if cmd.args == nil {
		return nil, errors.New("need the path of a csv file to load")
	}
	if sc.estimator.IsFitting() {
		return nil, errFitting
	}
	var opts []countio.Option
	if strings.EqualFold(cmd.options["encoding"], "latin1") {
		opts = append(opts, countio.Latin1())
	}
	f, err := os.Open(cmd.args[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cm, err := countio.ReadCSV(f, opts...)
	if err != nil {
		return nil, err
	}
	sc.setMatrix(cm)
	return msg(sc.matrixSummary()), nil
}

func (sc *ShellController) loaddb(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) < 2 {
		return nil, errors.New("usage: loaddb <sqlite file> <query>")
	}
	if sc.estimator.IsFitting() {
		return nil, errFitting
	}
	cm, err := countio.ReadSQLite(context.Background(), cmd.args[0],
		strings.Join(cmd.args[1:], " "))
	if err != nil {
		return nil, err
	}
	sc.setMatrix(cm)
	return msg(sc.matrixSummary()), nil
}

func (sc *ShellController) unload(cmd *shellcmd) (*Response, error) {
	if sc.estimator.IsFitting() {
		return nil, errFitting
	}
	sc.matrix = nil
	sc.model = nil
	sc.weights = nil
	return msg("unloaded count table and model"), nil
}

func (sc *ShellController) generate(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) < 3 {
		return nil, errors.New("usage: gen <a1,a2,...> <rows> <trials per row>")
	}
	if sc.estimator.IsFitting() {
		return nil, errFitting
	}
	alpha, err := parseFloats(cmd.args[0])
	if err != nil {
		return nil, err
	}
	rows, err := strconv.Atoi(cmd.args[1])
	if err != nil {
		return nil, err
	}
	trials, err := strconv.Atoi(cmd.args[2])
	if err != nil {
		return nil, err
	}

	seed := sc.config.GetUint64(config.ConfigSeed)
	if s, ok := cmd.options["seed"]; ok {
		seed, err = strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, err
		}
	}
	var sampler *dirmult.SyntheticSampler
	if seed == 0 {
		sampler, err = dirmult.NewSampler(alpha, trials)
	} else {
		sampler, err = dirmult.NewSeededSampler(alpha, trials, seed)
	}
	if err != nil {
		return nil, err
	}
	if names, ok := cmd.options["categories"]; ok {
		if err := sampler.SetCategories(strings.Split(names, ",")); err != nil {
			return nil, err
		}
	}
	cm, err := sampler.Matrix(rows)
	if err != nil {
		return nil, err
	}
	sc.setMatrix(cm)
	return msg(fmt.Sprintf("%s (seed %d)", sc.matrixSummary(), sampler.Seed())), nil
}

func (sc *ShellController) prepareEstimator() {
	sc.estimator.SetTolerance(sc.config.GetFloat64(config.ConfigTolerance))
	sc.estimator.SetMaxIterations(sc.config.GetInt(config.ConfigMaxIterations))
	if threads := sc.config.GetInt(config.ConfigThreads); threads > 0 {
		sc.estimator.SetThreads(threads)
	}
}

func (sc *ShellController) fit(cmd *shellcmd) (*Response, error) {
	if cmd.args != nil {
		return sc.fitControlArguments(cmd.args)
	}
	if sc.matrix == nil {
		return nil, errNoMatrix
	}
	if sc.estimator.IsFitting() {
		return nil, errFitting
	}
	sc.prepareEstimator()
	sc.startFit()
	return nil, nil
}

func (sc *ShellController) startFit() {
	sc.fitCtx, sc.fitCancel = context.WithCancel(context.Background())
	sc.fitTicker = time.NewTicker(5 * time.Second)
	sc.fitTickerDone = make(chan bool, 1)
	sc.showMessage("Fit started. Use `fit show` for progress and `fit stop` to cancel.")

	go func() {
		model, err := sc.estimator.Fit(sc.fitCtx, sc.matrix)
		if err != nil {
			sc.showError(err)
		} else {
			sc.model = model
			if !model.Converged() {
				sc.showMessage("warning: fit did not converge (" +
					model.Diagnostics().StopReason + ")")
			}
			sc.showMessage(sc.parameterText())
		}
		sc.fitTickerDone <- true
		log.Debug().Msg("fit thread exiting...")
	}()

	go func() {
		for {
			select {
			case <-sc.fitTickerDone:
				log.Debug().Msg("ticker thread exiting...")
				return
			case <-sc.fitTicker.C:
				log.Info().Msgf("Estimator is at %v iterations...",
					sc.estimator.Iterations())
			}
		}
	}()
}

// fitSync runs a fit on the calling goroutine, for scripts and one-shot
// invocations.
func (sc *ShellController) fitSync() (*Response, error) {
	if sc.matrix == nil {
		return nil, errNoMatrix
	}
	if sc.estimator.IsFitting() {
		return nil, errFitting
	}
	sc.prepareEstimator()
	model, err := sc.estimator.Fit(context.Background(), sc.matrix)
	if err != nil {
		return nil, err
	}
	sc.model = model
	return msg(sc.parameterText()), nil
}

func (sc *ShellController) fitControlArguments(args []string) (*Response, error) {
	switch args[0] {
	case "stop":
		if !sc.estimator.IsFitting() {
			return nil, errors.New("no running fit to stop")
		}
		sc.fitTicker.Stop()
		sc.fitCancel()
		return nil, nil
	case "show":
		if sc.estimator.IsFitting() {
			return msg(fmt.Sprintf("fit is at iteration %d", sc.estimator.Iterations())), nil
		}
		if sc.model == nil {
			return nil, errNoModel
		}
		return msg(sc.parameterText()), nil
	default:
		return nil, fmt.Errorf("do not understand fit argument %v", args[0])
	}
}

func (sc *ShellController) logCmd(cmd *shellcmd) (*Response, error) {
	if cmd.args == nil {
		return nil, errors.New("usage: log <path>|off")
	}
	if sc.estimator.IsFitting() {
		return nil, errors.New("please stop the fit before making any log changes")
	}
	if cmd.args[0] == "off" {
		if sc.fitLogFile != nil {
			if err := sc.fitLogFile.Close(); err != nil {
				return nil, err
			}
			sc.fitLogFile = nil
		}
		sc.estimator.SetLogStream(nil)
		return msg("fit logging turned off"), nil
	}
	f, err := os.Create(cmd.args[0])
	if err != nil {
		return nil, err
	}
	if sc.fitLogFile != nil {
		sc.fitLogFile.Close()
	}
	sc.fitLogFile = f
	sc.estimator.SetLogStream(f)
	return msg("fit iterations will log to " + cmd.args[0]), nil
}

func (sc *ShellController) alphas(cmd *shellcmd) (*Response, error) {
	if sc.model == nil {
		return nil, errNoModel
	}
	return msg(sc.parameterText()), nil
}

// findRow resolves an entity name or a one-based row number.
func (sc *ShellController) findRow(arg string) (int, error) {
	for i := 0; i < sc.matrix.Rows(); i++ {
		if sc.matrix.Entity(i) == arg {
			return i, nil
		}
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > sc.matrix.Rows() {
			return 0, fmt.Errorf("row %d out of range (1-%d)", n, sc.matrix.Rows())
		}
		return n - 1, nil
	}
	return 0, fmt.Errorf("no entity named %q", arg)
}

func (sc *ShellController) shrink(cmd *shellcmd) (*Response, error) {
	if sc.matrix == nil {
		return nil, errNoMatrix
	}
	if sc.model == nil {
		return nil, errNoModel
	}
	if cmd.args == nil {
		rep, err := sc.newReport()
		if err != nil {
			return nil, err
		}
		text, err := rep.EstimateTable(context.Background())
		if err != nil {
			return nil, err
		}
		return msg(text), nil
	}

	idx, err := sc.findRow(cmd.args[0])
	if err != nil {
		return nil, err
	}
	est, err := dirmult.Shrink(sc.matrix.Row(idx), sc.model)
	if err != nil {
		return nil, err
	}
	raw := sc.matrix.Proportions(idx)

	var ss strings.Builder
	fmt.Fprintf(&ss, "%s (total %d)\n", sc.matrix.Entity(idx), sc.matrix.RowTotal(idx))
	fmt.Fprintf(&ss, "%-16s%-12s%-12s\n", "Category", "Raw", "Shrunk")
	for j, cat := range sc.model.Categories() {
		fmt.Fprintf(&ss, "%-16s%-12.4f%-12.4f\n", cat, raw[j], est[j])
	}
	if sc.weights != nil {
		score, err := dirmult.WeightedScore(est, sc.weights)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&ss, "Weighted score: %.4f\n", score)
	}
	return msg(ss.String()), nil
}

func (sc *ShellController) score(cmd *shellcmd) (*Response, error) {
	if cmd.args == nil {
		if sc.weights == nil {
			return nil, errors.New("no weights set; usage: score <w1,w2,...>")
		}
		return msg(fmt.Sprintf("current weights: %v", sc.weights)), nil
	}
	weights, err := parseFloats(cmd.args[0])
	if err != nil {
		return nil, err
	}
	if sc.matrix != nil && len(weights) != sc.matrix.NumCategories() {
		return nil, fmt.Errorf("%w: have %d weights for %d categories",
			dirmult.ErrWeightLength, len(weights), sc.matrix.NumCategories())
	}
	sc.weights = weights
	if sc.model == nil {
		return msg(fmt.Sprintf("weights set to %v; estimate tables will carry a score column", weights)), nil
	}
	rep, err := sc.newReport()
	if err != nil {
		return nil, err
	}
	text, err := rep.EstimateTable(context.Background())
	if err != nil {
		return nil, err
	}
	return msg(text), nil
}

func (sc *ShellController) set(cmd *shellcmd) (*Response, error) {
	if cmd.args == nil {
		return msg(sc.options.ToDisplayText()), nil
	}
	opt := cmd.args[0]
	if len(cmd.args) == 1 {
		_, val := sc.options.Show(opt)
		return msg(val), nil
	}
	values := cmd.args[1:]
	ret, err := sc.Set(opt, values)
	if err != nil {
		return nil, err
	}
	return msg("set " + opt + " to " + ret), nil
}

func (sc *ShellController) Set(key string, values []string) (string, error) {
	return sc.options.Set(key, values)
}

func (sc *ShellController) export(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) < 2 {
		return nil, errors.New("usage: export <csv|json> <path>")
	}
	if sc.matrix == nil {
		return nil, errNoMatrix
	}
	if sc.model == nil {
		return nil, errNoModel
	}
	rep, err := sc.newReport()
	if err != nil {
		return nil, err
	}
	format, path := cmd.args[0], cmd.args[1]
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch format {
	case "csv":
		err = rep.WriteCSV(context.Background(), f)
	case "json":
		err = rep.WriteJSON(context.Background(), f)
	default:
		return nil, fmt.Errorf("unknown export format %q; want csv or json", format)
	}
	if err != nil {
		return nil, err
	}
	return msg("exported " + format + " to " + path), nil
}

func (sc *ShellController) show(cmd *shellcmd) (*Response, error) {
	if sc.matrix == nil {
		return nil, errNoMatrix
	}
	const maxShown = 10
	cm := sc.matrix

	var ss strings.Builder
	fmt.Fprintf(&ss, "%-20s%-8s", "Entity", "Total")
	for _, cat := range cm.Categories() {
		fmt.Fprintf(&ss, "%-12s", cat)
	}
	ss.WriteString("\n")
	shown := min(cm.Rows(), maxShown)
	for i := 0; i < shown; i++ {
		fmt.Fprintf(&ss, "%-20s%-8d", cm.Entity(i), cm.RowTotal(i))
		for _, c := range cm.Row(i) {
			fmt.Fprintf(&ss, "%-12d", c)
		}
		ss.WriteString("\n")
	}
	if cm.Rows() > shown {
		fmt.Fprintf(&ss, "... and %d more rows\n", cm.Rows()-shown)
	}
	return msg(ss.String()), nil
}

func (sc *ShellController) help(cmd *shellcmd) (*Response, error) {
	if cmd.args == nil {
		usage(sc.l.Stderr(), sc.execPath)
		return nil, nil
	}
	usageTopic(sc.l.Stderr(), cmd.args[0], sc.execPath)
	return nil, nil
}
