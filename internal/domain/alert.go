package domain

// AlertLevel is the ordinal alert state of a station: 0 normal .. 3 danger.
type AlertLevel int

const (
	AlertNormal AlertLevel = iota
	AlertAlert
	AlertWarning
	AlertDanger
)

// belowNormalStatus is the upstream's "waterlevelStatus" value for levels
// under the normal threshold. It is not an alert level.
const belowNormalStatus = -1

// String returns the upper-case status label used in summaries.
func (a AlertLevel) String() string {
	switch a {
	case AlertAlert:
		return "ALERT"
	case AlertWarning:
		return "WARNING"
	case AlertDanger:
		return "DANGER"
	default:
		return "NORMAL"
	}
}

// Valid reports whether a is one of the four defined levels.
func (a AlertLevel) Valid() bool {
	return a >= AlertNormal && a <= AlertDanger
}

// Classify maps a water level to an alert level using the station thresholds.
// Tiers whose threshold is zero or negative are unconfigured and never match.
func Classify(level float64, t Thresholds) AlertLevel {
	switch {
	case t.Danger > 0 && level >= t.Danger:
		return AlertDanger
	case t.Warning > 0 && level >= t.Warning:
		return AlertWarning
	case t.Alert > 0 && level >= t.Alert:
		return AlertAlert
	default:
		return AlertNormal
	}
}

// ResolveAlertLevel trusts an upstream-reported status in 0..3 and falls back
// to Classify for the below-normal sentinel, missing values, or anything else.
func ResolveAlertLevel(reported Flex, level float64, t Thresholds) AlertLevel {
	if n, ok := reported.Int(); ok && n != belowNormalStatus {
		if a := AlertLevel(n); a.Valid() {
			return a
		}
	}
	return Classify(level, t)
}

// WorstLevel returns the highest bucket with a non-zero count, with
// precedence danger > warning > alert > normal.
func WorstLevel(c DistrictCounts) AlertLevel {
	switch {
	case c.Danger > 0:
		return AlertDanger
	case c.Warning > 0:
		return AlertWarning
	case c.Alert > 0:
		return AlertAlert
	default:
		return AlertNormal
	}
}

// OverallStatus is the worst level across all districts.
func OverallStatus(districts []DistrictCounts) AlertLevel {
	worst := AlertNormal
	for _, d := range districts {
		if l := WorstLevel(d); l > worst {
			worst = l
		}
	}
	return worst
}
