package pipeline

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-release/artifact"
	"github.com/wippyai/wasm-release/config"
	"github.com/wippyai/wasm-release/errors"
	"github.com/wippyai/wasm-release/glue"
	"github.com/wippyai/wasm-release/wasm"
)

// ErrAlreadyRun is returned by Run on a pipeline that has already run.
var ErrAlreadyRun = errors.New(errors.PhaseConfig, errors.KindConfiguration).
	Detail("pipeline already ran; create a new one to retry").
	Build()

// Stages is the ordered set of stage implementations.
// Optimizer may be nil when the configuration disables optimization.
type Stages struct {
	Compiler  Compiler
	Binder    BindingGenerator
	Optimizer SizeOptimizer
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithObserver registers an observer for state transitions.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observers = append(p.observers, o)
	}
}

// WithValidator makes the pipeline compile the bound and optimized binaries
// with v instead of only parsing them.
func WithValidator(v *wasm.Validator) Option {
	return func(p *Pipeline) {
		p.validator = v
	}
}

// WithLogger overrides the package logger for one pipeline.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// Pipeline runs the stages of one release build. It is not safe for
// concurrent use and runs at most once.
type Pipeline struct {
	cfg       *config.Build
	stages    Stages
	validator *wasm.Validator
	logger    *zap.Logger
	observers []Observer
	results   []StageResult
	state     State
	failedIn  State
}

// New creates a pipeline in state NotStarted.
func New(cfg *config.Build, stages Stages, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.Configuration("", "nil build configuration")
	}
	if stages.Compiler == nil {
		return nil, errors.Configuration("stages", "no compiler")
	}
	if stages.Binder == nil {
		return nil, errors.Configuration("stages", "no binding generator")
	}
	if stages.Optimizer == nil && cfg.Optimize().Enabled {
		return nil, errors.Configuration("stages", "optimization enabled but no optimizer")
	}

	p := &Pipeline{
		cfg:    cfg,
		stages: stages,
		logger: Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// State returns the current state.
func (p *Pipeline) State() State {
	return p.state
}

// Run executes the stages in order and stops at the first failure. On
// failure the report carries the state the run failed from and every stage
// result gathered so far. The report is nil only with ErrAlreadyRun.
//
// Run assumes exclusive ownership of the staging directory for the
// configured base name. Callers sharing an output directory must serialize.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if p.state != StateNotStarted {
		return nil, ErrAlreadyRun
	}

	report := &Report{}
	err := p.run(ctx, report)
	report.State = p.state
	report.FailedIn = p.failedIn
	report.Results = slices.Clone(p.results)
	report.Err = err
	return report, err
}

func (p *Pipeline) run(ctx context.Context, report *Report) error {
	layout := p.cfg.Layout()
	optimize := p.cfg.Optimize().Enabled
	for _, w := range p.cfg.Warnings() {
		p.logger.Warn(w)
	}

	for _, s := range p.preflighters(optimize) {
		if err := s.Preflight(ctx, p.cfg); err != nil {
			return p.fail(nil, err)
		}
	}
	if err := layout.Prepare(); err != nil {
		return p.fail(nil, errors.Wrap(errors.PhaseConfig, errors.KindConfiguration, err, "prepare staging directory"))
	}

	raw := layout.Binary(artifact.RoleRaw)
	bound := layout.Binary(artifact.RoleBound)
	gl := layout.Glue()

	// Compile
	if err := p.enter(ctx, StateCompiling); err != nil {
		return err
	}
	if err := p.invoke(ctx, p.stages.Compiler.Compile, raw); err != nil {
		return err
	}

	// Bind
	if err := p.enter(ctx, StateBinding); err != nil {
		return err
	}
	if _, err := p.inspect(ctx, raw, false); err != nil {
		return p.fail(nil, err)
	}
	if err := p.invoke(ctx, p.stages.Binder.Bind, bound, gl); err != nil {
		return err
	}
	boundMod, err := p.inspect(ctx, bound, true)
	if err != nil {
		return p.fail(nil, err)
	}
	if err := p.verifyGlue(gl, boundMod); err != nil {
		return p.fail(nil, err)
	}
	boundInfo, err := p.stat(bound)
	if err != nil {
		return p.fail(nil, err)
	}
	glueInfo, err := p.stat(gl)
	if err != nil {
		return p.fail(nil, err)
	}
	report.Entries = boundMod.Entries()
	report.BoundSize = boundInfo.Size

	final := bound
	if optimize {
		if err := p.enter(ctx, StateOptimizing); err != nil {
			return err
		}
		if err := p.invoke(ctx, p.stages.Optimizer.Optimize, layout.Binary(artifact.RoleOptimized)); err != nil {
			return err
		}
		final = layout.Binary(artifact.RoleOptimized)
		if err := p.checkOptimized(ctx, final, gl, report.Entries, glueInfo); err != nil {
			return p.fail(nil, err)
		}
		report.Optimized = true
	} else {
		p.logger.Info("optimizer disabled, skipping")
	}

	binInfo, err := p.stat(final)
	if err != nil {
		return p.fail(nil, err)
	}
	if optimize {
		glueInfo, err = p.stat(gl)
		if err != nil {
			return p.fail(nil, err)
		}
	}
	report.Binary = binInfo
	report.Glue = glueInfo

	p.transition(StateDone, p.lastResult(), nil)
	p.logger.Info("pipeline done",
		zap.String("binary", binInfo.Path),
		zap.Int64("size", binInfo.Size),
		zap.String("sha256", binInfo.Digest),
		zap.String("glue", glueInfo.Path))
	return nil
}

func (p *Pipeline) preflighters(optimize bool) []Preflighter {
	candidates := []any{p.stages.Compiler, p.stages.Binder}
	if optimize {
		candidates = append(candidates, p.stages.Optimizer)
	}
	var out []Preflighter
	for _, c := range candidates {
		if pf, ok := c.(Preflighter); ok {
			out = append(out, pf)
		}
	}
	return out
}

// enter moves into a stage state, failing it right away if ctx is done.
func (p *Pipeline) enter(ctx context.Context, s State) error {
	p.transition(s, p.lastResult(), nil)
	if err := ctx.Err(); err != nil {
		return p.fail(nil, errors.New(s.Phase(), errors.KindStageFailure).
			Detail("interrupted before %s", s).
			Cause(err).
			Build())
	}
	return nil
}

// invoke runs the stage for the current state and requires its outputs.
// A stage that reports success without producing its outputs fails.
func (p *Pipeline) invoke(ctx context.Context, run func(context.Context, *config.Build) StageResult, outputs ...artifact.Artifact) error {
	stage := p.state
	p.logger.Info("stage started", zap.Stringer("stage", stage))

	start := time.Now()
	res := run(ctx, p.cfg)
	res.Stage = stage
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	if res.Err == nil {
		for _, out := range outputs {
			if err := out.Require(stage.Phase()); err != nil {
				res.Err = err
				break
			}
		}
	}
	if res.Err == nil && len(res.Artifacts) == 0 {
		res.Artifacts = outputs
	}
	p.results = append(p.results, res)

	if res.Err != nil {
		return p.fail(p.lastResult(), res.Err)
	}
	p.logger.Info("stage finished",
		zap.Stringer("stage", stage),
		zap.Duration("duration", res.Duration))
	return nil
}

// inspect reads a binary artifact and checks that it is a well-formed
// module. Runtime validation applies only when full is set and a validator
// is configured.
func (p *Pipeline) inspect(ctx context.Context, a artifact.Artifact, full bool) (*wasm.Module, error) {
	phase := p.state.Phase()
	data, err := a.Read(phase)
	if err != nil {
		return nil, err
	}
	var m *wasm.Module
	if full && p.validator != nil {
		m, err = p.validator.Validate(ctx, data)
	} else {
		m, err = wasm.ParseModule(data)
	}
	if err != nil {
		return nil, errors.ArtifactMalformed(phase, string(a.Role), a.Path, err)
	}
	return m, nil
}

func (p *Pipeline) verifyGlue(gl artifact.Artifact, m *wasm.Module) error {
	phase := p.state.Phase()
	src, err := gl.Read(phase)
	if err != nil {
		return err
	}
	surface := glue.Parse(src)
	if err := surface.Verify(m); err != nil {
		return errors.New(phase, errors.KindArtifactConsistency).
			Path(gl.Path).
			Detail("glue does not match binary").
			Cause(err).
			Build()
	}
	if missing := surface.MissingFiles(filepath.Dir(gl.Path)); len(missing) > 0 {
		return errors.New(phase, errors.KindArtifactConsistency).
			Path(gl.Path).
			Detail("glue imports missing files: " + strings.Join(missing, ", ")).
			Build()
	}
	return nil
}

// checkOptimized verifies the optimizer kept every exported entry point,
// left the glue alone and produced a binary the glue still resolves against.
func (p *Pipeline) checkOptimized(ctx context.Context, bin, gl artifact.Artifact, before []wasm.Entry, glueBefore artifact.Info) error {
	m, err := p.inspect(ctx, bin, true)
	if err != nil {
		return err
	}
	if drift := wasm.DiffEntries(before, m.Entries()); len(drift) > 0 {
		p.logger.Error("exported entry points changed", zap.Strings("drift", drift))
		return errors.New(errors.PhaseOptimize, errors.KindArtifactConsistency).
			Path(bin.Path).
			Detail("optimizer changed exported entry points: %s", strings.Join(drift, "; ")).
			Build()
	}
	glueAfter, err := p.stat(gl)
	if err != nil {
		return err
	}
	if glueAfter.Digest != glueBefore.Digest {
		return errors.New(errors.PhaseOptimize, errors.KindArtifactConsistency).
			Path(gl.Path).
			Detail("glue modified during optimization").
			Build()
	}
	return p.verifyGlue(gl, m)
}

func (p *Pipeline) stat(a artifact.Artifact) (artifact.Info, error) {
	info, err := a.Stat()
	if err != nil {
		return artifact.Info{}, errors.ArtifactMalformed(p.state.Phase(), string(a.Role), a.Path, err)
	}
	return info, nil
}

func (p *Pipeline) lastResult() *StageResult {
	if len(p.results) == 0 {
		return nil
	}
	r := p.results[len(p.results)-1]
	return &r
}

func (p *Pipeline) fail(res *StageResult, err error) error {
	p.failedIn = p.state
	p.transition(StateFailed, res, err)
	fields := []zap.Field{
		zap.Stringer("stage", p.failedIn),
		zap.Error(err),
	}
	if diag := errors.DiagnosticOf(err); diag != "" {
		fields = append(fields, zap.String("diagnostic", diag))
	}
	p.logger.Error("pipeline failed", fields...)
	return err
}

func (p *Pipeline) transition(to State, res *StageResult, err error) {
	from := p.state
	if !CanTransition(from, to) {
		panic("pipeline: invalid transition " + from.String() + " -> " + to.String())
	}
	p.state = to
	p.logger.Debug("state transition", zap.Stringer("from", from), zap.Stringer("to", to))

	ev := Event{From: from, To: to, Result: res, Err: err}
	for _, o := range p.observers {
		o(ev)
	}
}
