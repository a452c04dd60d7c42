package anomaly

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"benchguard.io/internal/activity"
	"benchguard.io/internal/audit"
	"benchguard.io/internal/auth"
	"benchguard.io/internal/ops"
)

// flagNamespace seeds content-derived flag identifiers.
var flagNamespace = uuid.MustParse("5b0a3c9e-2f4d-5e71-9c1a-8d2b6f4e0a17")

// Thresholds are the tunable limits of the rules. Counts and amounts must be
// strictly exceeded to raise a flag.
type Thresholds struct {
	LoginBurst      int           `koanf:"login_burst"`
	HighValueAmount float64       `koanf:"high_value_amount"`
	InventorySurge  int           `koanf:"inventory_surge"`
	Window          time.Duration `koanf:"window"`
}

// DefaultThresholds returns the limits used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LoginBurst:      5,
		HighValueAmount: 1000,
		InventorySurge:  20,
		Window:          24 * time.Hour,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.LoginBurst <= 0 {
		t.LoginBurst = d.LoginBurst
	}
	if t.HighValueAmount <= 0 {
		t.HighValueAmount = d.HighValueAmount
	}
	if t.InventorySurge <= 0 {
		t.InventorySurge = d.InventorySurge
	}
	if t.Window <= 0 {
		t.Window = d.Window
	}
	return t
}

// Input is a snapshot of every collection a scan reads. Unavailable marks
// sources that could not be read; Names maps actor ids to display names.
type Input struct {
	Audit        []audit.Entry
	Activity     []activity.Entry
	Transactions []ops.Transaction
	Repairs      []ops.Repair
	Inventory    []ops.InventoryEvent

	Unavailable map[Source]error
	Names       map[string]string
	// Now bounds the volume rules to the window ending at Now. A zero Now
	// counts every row.
	Now time.Time
}

func (in Input) available(s Source) bool {
	_, missing := in.Unavailable[s]
	return !missing
}

// Detector runs the anomaly rules. Scanning is read-only and deterministic.
type Detector struct {
	th Thresholds
}

func NewDetector(th Thresholds) *Detector {
	return &Detector{th: th.withDefaults()}
}

// Thresholds returns the effective limits.
func (d *Detector) Thresholds() Thresholds { return d.th }

// Scan returns the flags for in, newest first.
func (d *Detector) Scan(in Input) []Flag {
	return d.ScanReport(in).Flags
}

type rule struct {
	detector DetectorType
	needs    []Source
	run      func(Input) []Flag
}

// ScanReport runs every rule whose inputs are available and reports the
// skipped ones.
func (d *Detector) ScanReport(in Input) Report {
	rules := []rule{
		{DetectorAuth, []Source{SourceActivity}, d.loginVolatility},
		{DetectorPayment, []Source{SourceTransactions}, d.highValueTransfers},
		{DetectorOverride, []Source{SourceAudit}, d.manualOverrides},
		{DetectorMargin, []Source{SourceRepairs}, d.negativeMargins},
		{DetectorInventory, []Source{SourceActivity}, d.inventorySurge},
	}

	rep := Report{Flags: []Flag{}, ScannedAt: in.Now}
	for _, r := range rules {
		runnable := true
		for _, src := range r.needs {
			if err, missing := in.Unavailable[src]; missing {
				runnable = false
				reason := ErrInputUnavailable.Error()
				if err != nil {
					reason = err.Error()
				}
				rep.Skipped = append(rep.Skipped, Skipped{Detector: r.detector, Source: src, Reason: reason})
			}
		}
		if runnable {
			rep.Flags = append(rep.Flags, r.run(in)...)
		}
	}
	sortFlags(rep.Flags)
	return rep
}

func sortFlags(flags []Flag) {
	sort.SliceStable(flags, func(i, j int) bool {
		a, b := flags[i], flags[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if a.Detector != b.Detector {
			return a.Detector < b.Detector
		}
		if a.RefID != b.RefID {
			return a.RefID < b.RefID
		}
		return a.ID < b.ID
	})
}

func (d *Detector) inWindow(in Input, t time.Time) bool {
	if in.Now.IsZero() {
		return true
	}
	return !t.Before(in.Now.Add(-d.th.Window)) && !t.After(in.Now)
}

func newFlag(det DetectorType, risk Risk, category, entityID, entity string, et EntityType, refID, reason string, ts time.Time) Flag {
	return Flag{
		ID:         uuid.NewSHA1(flagNamespace, []byte(string(det)+"|"+refID+"|"+entity)).String(),
		Entity:     entity,
		EntityID:   entityID,
		EntityType: et,
		Category:   category,
		Risk:       risk,
		Reason:     reason,
		RefID:      refID,
		Timestamp:  ts.UTC(),
		Detector:   det,
	}
}

func displayName(in Input, id, fallback string) string {
	if name := strings.TrimSpace(in.Names[id]); name != "" {
		return name
	}
	if id != "" {
		return id
	}
	return fallback
}

func entityTypeForRole(raw string) EntityType {
	role, ok := auth.ParseRole(raw)
	switch {
	case !ok:
		return EntitySystem
	case role.Administrative():
		return EntityAdmin
	}
	return EntityUser
}

// loginVolatility raises one flag per user whose login count in the window
// exceeds LoginBurst.
func (d *Detector) loginVolatility(in Input) []Flag {
	type tally struct {
		count int
		role  string
		last  time.Time
	}
	byUser := map[string]*tally{}
	var order []string
	for _, e := range in.Activity {
		if !strings.Contains(strings.ToLower(e.Action), "login") || !d.inWindow(in, e.OccurredAt) {
			continue
		}
		t, ok := byUser[e.UserID]
		if !ok {
			t = &tally{}
			byUser[e.UserID] = t
			order = append(order, e.UserID)
		}
		t.count++
		if !e.OccurredAt.Before(t.last) {
			t.last = e.OccurredAt
			t.role = e.UserRole
		}
	}
	var flags []Flag
	for _, userID := range order {
		t := byUser[userID]
		if t.count <= d.th.LoginBurst {
			continue
		}
		et := entityTypeForRole(t.role)
		if et == EntitySystem {
			et = EntityUser
		}
		reason := fmt.Sprintf("High-frequency authentication handshakes: %d logins in window (limit %d)", t.count, d.th.LoginBurst)
		flags = append(flags, newFlag(DetectorAuth, RiskWarning, "Authentication",
			userID, displayName(in, userID, "unknown"), et, userID, reason, t.last))
	}
	return flags
}

// highValueTransfers flags every transaction above HighValueAmount.
func (d *Detector) highValueTransfers(in Input) []Flag {
	var flags []Flag
	for _, tx := range in.Transactions {
		if tx.Amount <= d.th.HighValueAmount {
			continue
		}
		entity := strings.TrimSpace(tx.ActorName)
		if entity == "" {
			entity = displayName(in, tx.ActorID, "unknown")
		}
		reason := fmt.Sprintf("High-value transfer of %.2f %s exceeds %.2f", tx.Amount, tx.Currency, d.th.HighValueAmount)
		flags = append(flags, newFlag(DetectorPayment, RiskCritical, "Payment",
			tx.ActorID, entity, EntityUser, tx.ID, reason, tx.OccurredAt))
	}
	return flags
}

// manualOverrides flags ledger entries recording updates or key regeneration.
func (d *Detector) manualOverrides(in Input) []Flag {
	var flags []Flag
	for _, e := range in.Audit {
		action := strings.ToLower(e.Action)
		if !strings.Contains(action, "update") && !strings.Contains(action, "regen") {
			continue
		}
		entity := displayName(in, e.ActorID, e.ActorRole)
		if entity == "" {
			entity = "System"
		}
		reason := fmt.Sprintf("Manual override: %s on %s", e.Action, e.Resource)
		flags = append(flags, newFlag(DetectorOverride, RiskInfo, "Configuration",
			e.ActorID, entity, entityTypeForRole(e.ActorRole), e.ID, reason, e.OccurredAt))
	}
	return flags
}

// negativeMargins flags repairs whose resource cost exceeds the charge.
func (d *Detector) negativeMargins(in Input) []Flag {
	var flags []Flag
	for _, r := range in.Repairs {
		cost := r.ResourceCost()
		if cost <= r.ChargedCost {
			continue
		}
		et := EntityUser
		if r.TechnicianID == "" {
			et = EntitySystem
		}
		reason := fmt.Sprintf("Revenue < resource cost: charged %.2f against %.2f for %s", r.ChargedCost, cost, r.Device)
		flags = append(flags, newFlag(DetectorMargin, RiskWarning, "Repair Margin",
			r.TechnicianID, displayName(in, r.TechnicianID, "System"), et, r.ID, reason, r.OccurredAt))
	}
	return flags
}

// inventorySurge raises a single aggregate flag when stock additions in the
// window exceed InventorySurge. Activity rows define the surge; inventory
// events are added when that feed is available. An activity row and an
// inventory event that describe the same item count once.
func (d *Detector) inventorySurge(in Input) []Flag {
	seen := map[string]struct{}{}
	var (
		last  time.Time
		refID string
	)
	count := func(key string, ts time.Time, id string) {
		if ts.After(last) || (ts.Equal(last) && id > refID) {
			last, refID = ts, id
		}
		seen[key] = struct{}{}
	}
	for _, e := range in.Activity {
		if !strings.EqualFold(e.Action, activity.ActionStockItemAdded) || !d.inWindow(in, e.OccurredAt) {
			continue
		}
		key := "activity:" + e.ID
		if e.RefID != "" {
			key = "item:" + e.RefID
		}
		count(key, e.OccurredAt, e.ID)
	}
	if in.available(SourceInventory) {
		for _, ev := range in.Inventory {
			if !strings.EqualFold(ev.Action, activity.ActionStockItemAdded) || !d.inWindow(in, ev.OccurredAt) {
				continue
			}
			count("item:"+ev.ID, ev.OccurredAt, ev.ID)
		}
	}
	if len(seen) <= d.th.InventorySurge {
		return nil
	}
	reason := fmt.Sprintf("Inventory enrollment surge: %d stock items added (limit %d)", len(seen), d.th.InventorySurge)
	return []Flag{newFlag(DetectorInventory, RiskInfo, "Inventory", "", "Inventory", EntitySystem, refID, reason, last)}
}
