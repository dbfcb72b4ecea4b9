package flag

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/outcomes/outcomes/internal/domain/client"
)

// riskDetectedFlag is the interpretation flag scoring stores on a form when
// any risk item triggered.
const riskDetectedFlag = "RiskDetected"

// Outcome is a predicate result. Unknown means the snapshot lacks the data
// to decide either way; it never raises and never clears.
type Outcome struct {
	Met     bool
	Unknown bool
	Reason  string
}

func met(format string, args ...interface{}) Outcome {
	return Outcome{Met: true, Reason: fmt.Sprintf(format, args...)}
}

func notMet(format string, args ...interface{}) Outcome {
	return Outcome{Reason: fmt.Sprintf(format, args...)}
}

func unknown(format string, args ...interface{}) Outcome {
	return Outcome{Unknown: true, Reason: fmt.Sprintf(format, args...)}
}

// NoImprovement reports whether the two latest scores of any selected measure
// fail to improve. For higher-is-worse measures a later score at or above
// the earlier one is no improvement; for the others a later score at or
// below it is. Without a measure id, scores are grouped by measure code so
// successive versions of an instrument form one series. Series with fewer
// than two scores are skipped.
func NoImprovement(s *client.Snapshot, measureID *uuid.UUID, measureCode string) Outcome {
	checked := 0
	var improving []string
	for _, sr := range scoreSeries(s, measureID, measureCode) {
		if len(sr.points) < 2 {
			continue
		}
		checked++
		earlier, later := sr.points[len(sr.points)-2].Total, sr.points[len(sr.points)-1].Total
		stalled := later.GreaterThanOrEqual(earlier)
		if !sr.info.HigherIsWorse {
			stalled = later.LessThanOrEqual(earlier)
		}
		if stalled {
			return met("%s score %s -> %s shows no improvement", sr.label, earlier, later)
		}
		improving = append(improving, fmt.Sprintf("%s %s -> %s", sr.label, earlier, later))
	}
	if checked == 0 {
		return unknown("fewer than two scores recorded")
	}
	return notMet("improving: %s", strings.Join(improving, ", "))
}

type series struct {
	label  string
	info   client.MeasureInfo // of the latest scored version
	points []client.ScorePoint
}

// scoreSeries groups the snapshot's scores by measure code, or by id when a
// measure id is selected or the code is unknown. Points are time ordered.
func scoreSeries(s *client.Snapshot, measureID *uuid.UUID, measureCode string) []*series {
	var out []*series
	byKey := make(map[string]*series)
	for _, id := range s.MeasureIDs() {
		info, ok := s.Measures[id]
		if !ok {
			info = client.MeasureInfo{ID: id, HigherIsWorse: true}
		}
		if measureID != nil && id != *measureID {
			continue
		}
		if measureCode != "" && !strings.EqualFold(info.Code, measureCode) {
			continue
		}
		key, label := strings.ToUpper(info.Code), info.Code
		if measureID != nil || info.Code == "" {
			key, label = id.String(), id.String()
			if info.Code != "" {
				label = info.Code
			}
		}
		sr, ok := byKey[key]
		if !ok {
			sr = &series{label: label}
			byKey[key] = sr
			out = append(out, sr)
		}
		pts := s.Scores[id]
		if len(pts) > 0 && (len(sr.points) == 0 || !pts[len(pts)-1].At.Before(sr.points[len(sr.points)-1].At)) {
			sr.info = info
		}
		sr.points = append(sr.points, pts...)
	}
	for _, sr := range out {
		sort.SliceStable(sr.points, func(i, j int) bool {
			return sr.points[i].At.Before(sr.points[j].At)
		})
	}
	return out
}

// Inactive reports whether the client has had no session, note or form for
// longer than window and is in one of statuses.
func Inactive(s *client.Snapshot, at time.Time, window time.Duration, statuses []string) Outcome {
	inStatus := false
	for _, st := range statuses {
		if strings.EqualFold(st, s.Client.Status) {
			inStatus = true
			break
		}
	}
	if !inStatus {
		return notMet("status %s is not monitored for inactivity", s.Client.Status)
	}
	idle := at.Sub(s.LastActivity)
	days := int(idle.Hours() / 24)
	if idle > window {
		return met("no activity for %d days (last %s)", days, s.LastActivity.Format("2006-01-02"))
	}
	return notMet("last activity %d days ago", days)
}

// RecentRisk reports whether any form submitted within window before at
// carries the RiskDetected interpretation flag.
func RecentRisk(s *client.Snapshot, at time.Time, window time.Duration) Outcome {
	since := at.Add(-window)
	for i := len(s.Forms) - 1; i >= 0; i-- {
		f := s.Forms[i]
		if f.SubmittedAt.After(at) || f.SubmittedAt.Before(since) {
			continue
		}
		if f.HasFlag(riskDetectedFlag) {
			label := f.MeasureID.String()
			if info, ok := s.Measures[f.MeasureID]; ok && info.Code != "" {
				label = info.Code
			}
			return met("risk detected on %s submitted %s", label, f.SubmittedAt.Format("2006-01-02"))
		}
	}
	return notMet("no risk indicated in the last %d days", int(window.Hours()/24))
}

// QualityBelow reports whether the stored data quality score is under minimum.
func QualityBelow(s *client.Snapshot, minimum int) Outcome {
	if s.Client.DataQualityScore == nil {
		return unknown("data quality has not been calculated")
	}
	score := *s.Client.DataQualityScore
	if score < minimum {
		return met("data quality %d below minimum %d", score, minimum)
	}
	return notMet("data quality %d meets minimum %d", score, minimum)
}

// MissedSessions reports whether at least count sessions within window
// before at were marked did-not-attend.
func MissedSessions(s *client.Snapshot, at time.Time, window time.Duration, count int) Outcome {
	since := at.Add(-window)
	missed := 0
	for _, ses := range s.Sessions {
		if ses.DidNotAttend && !ses.SessionDate.After(at) && !ses.SessionDate.Before(since) {
			missed++
		}
	}
	if missed >= count {
		return met("%d missed sessions in %d days", missed, int(window.Hours()/24))
	}
	return notMet("%d missed sessions in %d days", missed, int(window.Hours()/24))
}
