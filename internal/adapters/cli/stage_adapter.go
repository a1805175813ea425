package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/example/stagehand/internal/core/policy"
	"github.com/example/stagehand/internal/core/stage"
	"github.com/example/stagehand/internal/ports/primary"
)

// Exit codes.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitApplyInterrupted = 3
)

// Payload is the structured result printed by every command with --json.
// Failures always carry Phase so callers know which step failed.
type Payload struct {
	OK      bool            `json:"ok"`
	Phase   string          `json:"phase"`
	Kind    string          `json:"kind,omitempty"`
	Message string          `json:"message,omitempty"`
	StageID string          `json:"stage_id,omitempty"`
	Token   string          `json:"token,omitempty"`
	Results []policy.Result `json:"results,omitempty"`
}

// ExitError is returned after a failure payload has been printed. The
// command layer exits with Code.
type ExitError struct {
	Code    int
	Payload Payload
}

func (e *ExitError) Error() string { return e.Payload.Message }

// StageAdapter is a thin adapter that translates CLI operations to StageService calls.
// It depends only on the StageService interface, enabling easy testing with mocks.
type StageAdapter struct {
	service    primary.StageService
	out        io.Writer
	jsonOutput bool
}

// NewStageAdapter creates a new StageAdapter. With jsonOutput every
// command prints a single Payload object.
func NewStageAdapter(service primary.StageService, out io.Writer, jsonOutput bool) *StageAdapter {
	return &StageAdapter{
		service:    service,
		out:        out,
		jsonOutput: jsonOutput,
	}
}

// Begin creates a stage and requires constraints in it. The returned token
// is set whenever a stage was created, even if require failed.
func (a *StageAdapter) Begin(ctx context.Context, owner string, constraints []string, dev bool) (string, error) {
	created, err := a.service.Create(ctx, primary.CreateStageRequest{Owner: owner})
	if err != nil {
		return "", a.fail(stage.OpCreate, "", err)
	}
	if !a.jsonOutput {
		fmt.Fprintf(a.out, "✓ Stage %s created in %s\n", created.Stage.ID, created.Stage.Directory)
	}

	required, err := a.service.Require(ctx, primary.RequireRequest{Token: created.Token, Constraints: constraints, Dev: dev})
	if err != nil {
		return created.Token, a.fail(stage.OpRequire, created.Stage.ID, err)
	}

	if a.jsonOutput {
		return created.Token, a.emit(Payload{
			OK:      true,
			Phase:   string(stage.OpRequire),
			StageID: created.Stage.ID,
			Token:   created.Token,
			Results: required.Results,
		})
	}
	fmt.Fprintf(a.out, "✓ Required %s\n", strings.Join(constraints, ", "))
	a.printPackages(required.Stage.Packages)
	a.printResults(required.Results)
	return created.Token, nil
}

// Stage re-syncs the stage from production and re-requires its constraints.
func (a *StageAdapter) Stage(ctx context.Context, token string) error {
	resp, err := a.service.Sync(ctx, primary.SyncRequest{Token: token})
	if err != nil {
		return a.fail(stage.OpRequire, "", err)
	}
	if a.jsonOutput {
		return a.emit(Payload{OK: true, Phase: string(stage.OpRequire), StageID: resp.Stage.ID, Results: resp.Results})
	}
	fmt.Fprintf(a.out, "✓ Stage %s re-synced (%s)\n", resp.Stage.ID, resp.Stage.Phase)
	a.printPackages(resp.Stage.Packages)
	a.printResults(resp.Results)
	return nil
}

// Update updates packages inside the stage.
func (a *StageAdapter) Update(ctx context.Context, token string, packages []string) error {
	resp, err := a.service.Update(ctx, primary.UpdateRequest{Token: token, Packages: packages})
	if err != nil {
		return a.fail(stage.OpRequire, "", err)
	}
	return a.packagesChanged(resp, "Updated", packages)
}

// Remove removes packages from the stage.
func (a *StageAdapter) Remove(ctx context.Context, token string, packages []string) error {
	resp, err := a.service.Remove(ctx, primary.RemoveRequest{Token: token, Packages: packages})
	if err != nil {
		return a.fail(stage.OpRequire, "", err)
	}
	return a.packagesChanged(resp, "Removed", packages)
}

func (a *StageAdapter) packagesChanged(resp *primary.StageResponse, verb string, packages []string) error {
	if a.jsonOutput {
		return a.emit(Payload{OK: true, Phase: string(stage.OpRequire), StageID: resp.Stage.ID, Results: resp.Results})
	}
	fmt.Fprintf(a.out, "✓ %s %s\n", verb, strings.Join(packages, ", "))
	a.printPackages(resp.Stage.Packages)
	a.printResults(resp.Results)
	return nil
}

// Apply promotes the stage into production.
func (a *StageAdapter) Apply(ctx context.Context, token string) error {
	resp, err := a.service.Apply(ctx, primary.ApplyRequest{Token: token})
	if err != nil {
		return a.fail(stage.OpApply, "", err)
	}
	if a.jsonOutput {
		return a.emit(Payload{OK: true, Phase: string(stage.OpApply), StageID: resp.Stage.ID, Results: resp.Results})
	}
	fmt.Fprintf(a.out, "✓ Stage %s applied\n", resp.Stage.ID)
	a.printResults(resp.Results)
	return nil
}

// PostApply runs the post-apply hooks.
func (a *StageAdapter) PostApply(ctx context.Context, token string) error {
	resp, err := a.service.PostApply(ctx, primary.PostApplyRequest{Token: token})
	if err != nil {
		return a.fail(stage.OpPostApply, "", err)
	}
	if a.jsonOutput {
		return a.emit(Payload{OK: true, Phase: string(stage.OpPostApply), StageID: resp.Stage.ID, Message: resp.Output})
	}
	fmt.Fprintf(a.out, "✓ Post-apply tasks finished for stage %s\n", resp.Stage.ID)
	if resp.Output != "" {
		fmt.Fprintln(a.out, resp.Output)
	}
	return nil
}

// Destroy removes the stage.
func (a *StageAdapter) Destroy(ctx context.Context, token string, force bool, reason string) error {
	err := a.service.Destroy(ctx, primary.DestroyRequest{Token: token, Force: force, Reason: reason})
	if err != nil {
		return a.fail(stage.OpDestroy, "", err)
	}
	if a.jsonOutput {
		return a.emit(Payload{OK: true, Phase: string(stage.OpDestroy)})
	}
	fmt.Fprintln(a.out, "✓ Stage destroyed")
	return nil
}

// Status displays the current stage, lock and failure marker.
func (a *StageAdapter) Status(ctx context.Context) (*primary.StatusResponse, error) {
	status, err := a.service.Status(ctx)
	if err != nil {
		return nil, a.fail(stage.OpStatus, "", err)
	}

	if a.jsonOutput {
		payload := Payload{OK: status.Marker == nil, Phase: string(stage.OpStatus)}
		if status.Stage != nil {
			payload.StageID = status.Stage.ID
			payload.Message = "stage " + status.Stage.Phase
			if status.Stage.Interrupted {
				payload.Message += " (interrupted)"
			}
		} else if status.Available {
			payload.Message = "available"
		}
		if status.Marker != nil {
			payload.Kind = stage.KindFailureMarker
			payload.Message = status.Marker.Message
		}
		return status, a.emit(payload)
	}

	if status.Marker != nil {
		fmt.Fprintf(a.out, "%s %s\n", color.New(color.FgRed, color.Bold).Sprint("FAILURE MARKER SET:"), status.Marker.Message)
		fmt.Fprintln(a.out, "  Verify the site or restore from backup, then run: stagehand marker clear")
		fmt.Fprintln(a.out)
	}
	if status.Stage == nil && status.Lock == nil {
		fmt.Fprintln(a.out, "No stage exists.")
		if status.Available {
			fmt.Fprintln(a.out)
			fmt.Fprintln(a.out, "Start an update:")
			fmt.Fprintln(a.out, "  stagehand begin drupal/core:9.8.1")
		}
		return status, nil
	}

	if status.Stage != nil {
		fmt.Fprintf(a.out, "\nStage: %s\n", status.Stage.ID)
		fmt.Fprintf(a.out, "Phase:       %s\n", phaseLabel(status.Stage.Phase))
		fmt.Fprintf(a.out, "Owner:       %s\n", status.Stage.Owner)
		fmt.Fprintf(a.out, "Directory:   %s\n", status.Stage.Directory)
		if len(status.Stage.Constraints) > 0 {
			fmt.Fprintf(a.out, "Constraints: %s\n", strings.Join(status.Stage.Constraints, ", "))
		}
		if len(status.Stage.DevConstraints) > 0 {
			fmt.Fprintf(a.out, "Dev:         %s\n", strings.Join(status.Stage.DevConstraints, ", "))
		}
		fmt.Fprintf(a.out, "Created:     %s\n", status.Stage.CreatedAt.Format(time.RFC3339))
		if status.Stage.Interrupted {
			fmt.Fprintf(a.out, "%s the package manager run was interrupted.\n", color.New(color.FgYellow).Sprint("NOTE:"))
			fmt.Fprintln(a.out, "  Run `stagehand stage` to recover the stage and retry.")
		}
	} else {
		fmt.Fprintf(a.out, "\nLock held by %s for stage %s (no stage record)\n", status.Lock.Owner, status.Lock.StageID)
	}

	if len(status.Events) > 0 {
		fmt.Fprintln(a.out)
		w := tabwriter.NewWriter(a.out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "TIME\tEVENT\tSEVERITY\tMESSAGE")
		fmt.Fprintln(w, "----\t-----\t--------\t-------")
		for _, e := range status.Events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Event, e.Severity, e.Message)
		}
		w.Flush()
	}
	fmt.Fprintln(a.out)
	return status, nil
}

// Check runs the read-only status checks and fails when any error is found.
func (a *StageAdapter) Check(ctx context.Context) error {
	results, err := a.service.RunStatusCheck(ctx)
	if err != nil {
		return a.fail(stage.OpStatus, "", err)
	}
	if policy.HasErrors(results) {
		return a.fail(stage.OpStatus, "", &stage.ValidationError{Op: stage.OpStatus, Event: "status_check", Results: results})
	}
	if a.jsonOutput {
		return a.emit(Payload{OK: true, Phase: string(stage.OpStatus), Results: results})
	}
	if len(results) == 0 {
		fmt.Fprintln(a.out, "✓ All checks passed")
		return nil
	}
	a.printResults(results)
	return nil
}

// ShowMarker displays the failure marker, if any.
func (a *StageAdapter) ShowMarker(ctx context.Context) error {
	status, err := a.service.Status(ctx)
	if err != nil {
		return a.fail(stage.OpStatus, "", err)
	}
	m := status.Marker
	if a.jsonOutput {
		payload := Payload{OK: m == nil, Phase: string(stage.OpStatus)}
		if m != nil {
			payload.Kind = stage.KindFailureMarker
			payload.Message = m.Message
			payload.StageID = m.StageID
		}
		return a.emit(payload)
	}
	if m == nil {
		fmt.Fprintln(a.out, "No failure marker is set.")
		return nil
	}
	fmt.Fprintf(a.out, "\nFailure marker\n")
	fmt.Fprintf(a.out, "Message: %s\n", m.Message)
	fmt.Fprintf(a.out, "Stage:   %s\n", m.StageID)
	fmt.Fprintf(a.out, "Phase:   %s\n", m.Phase)
	if m.Detail != "" {
		fmt.Fprintf(a.out, "Detail:  %s\n", m.Detail)
	}
	fmt.Fprintf(a.out, "Written: %s\n", m.CreatedAt.Format(time.RFC3339))
	fmt.Fprintln(a.out)
	return nil
}

// ClearMarker removes the failure marker.
func (a *StageAdapter) ClearMarker(ctx context.Context) error {
	if err := a.service.ClearFailureMarker(ctx); err != nil {
		return a.fail(stage.OpStatus, "", err)
	}
	if a.jsonOutput {
		return a.emit(Payload{OK: true, Phase: string(stage.OpStatus), Message: "failure marker cleared"})
	}
	fmt.Fprintln(a.out, "✓ Failure marker cleared")
	return nil
}

// fail prints the failure for op and returns an ExitError.
func (a *StageAdapter) fail(op stage.Operation, stageID string, err error) error {
	kind, phase := stage.KindOf(err, op)
	payload := Payload{
		OK:      false,
		Phase:   string(phase),
		Kind:    kind,
		Message: err.Error(),
		StageID: stageID,
	}
	var verr *stage.ValidationError
	if errors.As(err, &verr) {
		payload.Results = verr.Results
	}
	code := ExitFailure
	if stage.IsFatal(err) {
		code = ExitApplyInterrupted
	}

	if a.jsonOutput {
		if eerr := a.emit(payload); eerr != nil {
			return eerr
		}
	} else {
		fmt.Fprintf(a.out, "%s %s failed (%s): %s\n", color.New(color.FgRed).Sprint("✗"), payload.Phase, kind, payload.Message)
		if verr != nil {
			a.printResults(verr.Results)
		}
	}
	return &ExitError{Code: code, Payload: payload}
}

func (a *StageAdapter) emit(p Payload) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

func (a *StageAdapter) printResults(results []policy.Result) {
	for _, r := range results {
		fmt.Fprintf(a.out, "  %s ", severityLabel(r.Severity))
		if r.Summary != "" {
			fmt.Fprintf(a.out, "%s\n", r.Summary)
			for _, m := range r.Messages {
				fmt.Fprintf(a.out, "      - %s\n", m)
			}
			continue
		}
		fmt.Fprintln(a.out, strings.Join(r.Messages, " "))
	}
}

func (a *StageAdapter) printPackages(packages map[string]string) {
	if len(packages) == 0 {
		return
	}
	names := make([]string, 0, len(packages))
	for name := range packages {
		names = append(names, name)
	}
	sort.Strings(names)
	w := tabwriter.NewWriter(a.out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tVERSION")
	fmt.Fprintln(w, "-------\t-------")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, packages[name])
	}
	w.Flush()
}

func severityLabel(s policy.Severity) string {
	switch s {
	case policy.SeverityError:
		return color.New(color.FgRed).Sprint("ERROR  ")
	case policy.SeverityWarning:
		return color.New(color.FgYellow).Sprint("WARNING")
	default:
		return color.New(color.FgGreen).Sprint("OK     ")
	}
}

func phaseLabel(phase string) string {
	switch stage.Phase(phase) {
	case stage.PhaseFailed:
		return color.New(color.FgRed).Sprint(phase)
	case stage.PhaseApplying, stage.PhaseRequiring:
		return color.New(color.FgYellow).Sprint(phase)
	case stage.PhaseApplied:
		return color.New(color.FgGreen).Sprint(phase)
	default:
		return phase
	}
}
