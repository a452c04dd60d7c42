package anomaly

import "time"

// NoAnomalyType is reported as the most common type when there are no flags.
const NoAnomalyType = "NONE"

// Summary is the windowed roll-up of a flag set.
type Summary struct {
	Critical24h          int       `json:"critical_24h"`
	Critical7d           int       `json:"critical_7d"`
	HighRiskUsers        int       `json:"high_risk_users"`
	HighRiskTransactions int       `json:"high_risk_transactions"`
	MostCommonType       string    `json:"most_common_type"`
	Total                int       `json:"total"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// Summarize rolls flags up relative to now. Ties for the most common
// detector type go to the type seen first.
func Summarize(flags []Flag, now time.Time) Summary {
	s := Summary{MostCommonType: NoAnomalyType, Total: len(flags), GeneratedAt: now.UTC()}
	day := now.Add(-24 * time.Hour)
	week := now.Add(-7 * 24 * time.Hour)

	users := map[string]struct{}{}
	counts := map[DetectorType]int{}
	var order []DetectorType
	for _, f := range flags {
		if _, ok := counts[f.Detector]; !ok {
			order = append(order, f.Detector)
		}
		counts[f.Detector]++

		if f.Risk != RiskCritical {
			continue
		}
		if !f.Timestamp.Before(day) {
			s.Critical24h++
		}
		if !f.Timestamp.Before(week) {
			s.Critical7d++
		}
		if f.EntityType == EntityUser {
			key := f.EntityID
			if key == "" {
				key = "name:" + f.Entity
			}
			users[key] = struct{}{}
		}
		if f.Detector == DetectorPayment {
			s.HighRiskTransactions++
		}
	}
	s.HighRiskUsers = len(users)

	best := 0
	for _, det := range order {
		if counts[det] > best {
			best = counts[det]
			s.MostCommonType = string(det)
		}
	}
	return s
}
