package assessment

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tmarlowe/hazloss/internal/config"
	"github.com/tmarlowe/hazloss/internal/domain"
)

// TargetAll expands a damage-process target to every component except the
// rule's source.
const TargetAll = "ALL"

// eventNA marks a target whose damage becomes undefined when the rule fires.
const eventNA = "NA"

// processTarget is one parsed target of a damage-process rule: a component
// (or TargetAll) and the event imposed on it.
type processTarget struct {
	cmp string
	ds  string // damage state to switch into; empty when na
	na  bool
}

// processTask is one ordered damage-process rule: when the source component
// reaches the source damage state anywhere in the asset, the targets are
// forced into their prescribed events in the affected realizations.
type processTask struct {
	name     string
	source   string
	sourceDS string
	targets  []processTarget
}

// DamageProcess is an ordered list of cross-component damage rules applied
// after the per-group damage evaluation.
type DamageProcess struct {
	tasks []processTask
}

// NewDamageProcess parses and validates the configured rules. Rule order is
// preserved; later rules see the effects of earlier ones.
func NewDamageProcess(rows []config.ProcessTaskRow) (*DamageProcess, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	p := &DamageProcess{}
	for i, row := range rows {
		task := processTask{name: row.Name, source: row.Source}
		if task.name == "" {
			task.name = fmt.Sprintf("task %d", i+1)
		}
		if task.source == "" {
			return nil, fmt.Errorf("damage process %s: missing source component", task.name)
		}
		ds, err := parseProcessEvent(row.Event)
		if err != nil {
			return nil, fmt.Errorf("damage process %s: %w", task.name, err)
		}
		if ds == "" {
			return nil, fmt.Errorf("damage process %s: source event must name a damage state", task.name)
		}
		task.sourceDS = ds

		if len(row.Targets) == 0 {
			return nil, fmt.Errorf("damage process %s: no targets", task.name)
		}
		for _, t := range row.Targets {
			target, err := parseProcessTarget(t)
			if err != nil {
				return nil, fmt.Errorf("damage process %s: %w", task.name, err)
			}
			task.targets = append(task.targets, target)
		}
		p.tasks = append(p.tasks, task)
	}
	return p, nil
}

// parseProcessEvent accepts "DSn" and returns the damage state number as a
// string. Limit-state events are not supported.
func parseProcessEvent(s string) (string, error) {
	if strings.HasPrefix(s, "LS") {
		return "", fmt.Errorf("limit-state events (%q) are not supported in damage processes", s)
	}
	if !strings.HasPrefix(s, "DS") {
		return "", fmt.Errorf("unrecognized damage process event %q", s)
	}
	n, err := strconv.Atoi(s[2:])
	if err != nil || n < 1 {
		return "", fmt.Errorf("unrecognized damage process event %q", s)
	}
	return strconv.Itoa(n), nil
}

// parseProcessTarget parses "CMP_DS2", "CMP_NA" or "ALL_NA". The component
// id may itself contain underscores, so the event is split from the right.
func parseProcessTarget(s string) (processTarget, error) {
	i := strings.LastIndex(s, "_")
	if i <= 0 || i == len(s)-1 {
		return processTarget{}, fmt.Errorf("unparseable damage process target %q", s)
	}
	cmp, event := s[:i], s[i+1:]
	if event == eventNA {
		return processTarget{cmp: cmp, na: true}, nil
	}
	ds, err := parseProcessEvent(event)
	if err != nil {
		return processTarget{}, err
	}
	return processTarget{cmp: cmp, ds: ds}, nil
}

// Apply executes the rules in order against the damage sample. A rule fires
// in every realization where the source component has a positive damaged
// quantity in its source damage state in any performance group.
func (p *DamageProcess) Apply(sample *domain.DamageSample) error {
	if p == nil {
		return nil
	}
	for _, task := range p.tasks {
		qty, ok := sample.MaxQuantityInDS(task.source, task.sourceDS)
		if !ok {
			// The source component never realizes the damage state (e.g.
			// its fragility tops out earlier); the rule can never fire.
			if !componentPresent(sample, task.source) {
				return fmt.Errorf("damage process %s: source component %s is not part of the damage sample", task.name, task.source)
			}
			continue
		}
		var affected []int
		for r, v := range qty {
			if v > 0 {
				affected = append(affected, r)
			}
		}
		if len(affected) == 0 {
			continue
		}

		for _, target := range task.targets {
			cmps := []string{target.cmp}
			if target.cmp == TargetAll {
				cmps = nil
				for _, c := range sample.Components() {
					if c != task.source {
						cmps = append(cmps, c)
					}
				}
			}
			for _, cmp := range cmps {
				if !componentPresent(sample, cmp) {
					return fmt.Errorf("damage process %s: target component %s is not part of the damage sample", task.name, cmp)
				}
				if target.na {
					sample.Clear(cmp, affected)
					continue
				}
				forceDamageState(sample, cmp, target.ds, affected)
			}
		}
	}
	return nil
}

// forceDamageState moves, per performance group of cmp, the whole damaged
// quantity into the prescribed damage state in the affected realizations.
// The target column is created on demand when the state was never realized.
func forceDamageState(sample *domain.DamageSample, cmp, ds string, affected []int) {
	pgs := make(map[domain.PGKey][]domain.DamageKey)
	var order []domain.PGKey
	for _, key := range sample.ColumnsOf(cmp) {
		pg := key.PG()
		if _, ok := pgs[pg]; !ok {
			order = append(order, pg)
		}
		pgs[pg] = append(pgs[pg], key)
	}
	for _, pg := range order {
		totals := make(map[int]float64, len(affected))
		for _, key := range pgs[pg] {
			col, _ := sample.Column(key)
			for _, r := range affected {
				if !math.IsNaN(col[r]) {
					totals[r] += col[r]
				}
				col[r] = 0
			}
		}
		target := sample.Ensure(domain.DamageKey{Cmp: pg.Cmp, Loc: pg.Loc, Dir: pg.Dir, DS: ds})
		for _, r := range affected {
			target[r] = totals[r]
		}
	}
}

func componentPresent(sample *domain.DamageSample, cmp string) bool {
	return len(sample.ColumnsOf(cmp)) > 0
}
