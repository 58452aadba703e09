package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dynamicruntime/dnclient/core"
)

// The profile's login history encodes each user agent sighting as
// "firstSeen#lastSeen@userAgent". There is no schema contract for it, so the
// decoding lives behind one function with explicit failure handling.

// UserAgentRecord is the decoded form of one sighting.
type UserAgentRecord struct {
	FirstSeen time.Time
	LastSeen  time.Time
	UserAgent string
}

// ParseUserAgent decodes the micro-format. A missing delimiter or an
// unparseable timestamp is an error; callers decide whether to skip or
// surface it.
func ParseUserAgent(raw string) (UserAgentRecord, error) {
	dates, agent, ok := strings.Cut(raw, "@")
	if !ok {
		return UserAgentRecord{}, fmt.Errorf("user agent entry %q has no '@' delimiter", raw)
	}
	first, last, ok := strings.Cut(dates, "#")
	if !ok {
		return UserAgentRecord{}, fmt.Errorf("user agent entry %q has no '#' delimiter", raw)
	}
	firstSeen, err := parseSourceTime(first)
	if err != nil {
		return UserAgentRecord{}, fmt.Errorf("user agent entry first seen time: %w", err)
	}
	lastSeen, err := parseSourceTime(last)
	if err != nil {
		return UserAgentRecord{}, fmt.Errorf("user agent entry last seen time: %w", err)
	}
	return UserAgentRecord{FirstSeen: firstSeen, LastSeen: lastSeen, UserAgent: agent}, nil
}

func parseSourceTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", value)
}

// machineDetections simplifies the parenthesized OS segment of a user agent
// into something friendlier. Order matters: an Android agent carries both
// "droid" and "linux".
var machineDetections = []struct {
	keyword string
	name    string
}{
	{"windows", "Windows"},
	{"iphone", "iPhone"},
	{"droid", "Android"},
	{"linux", "Linux"},
	{"cros", "Chrome OS"},
	{"mac", "Mac"},
}

// ExtractMachineName classifies a user agent string by its parenthesized
// platform segment.
func ExtractMachineName(userAgent string) string {
	machineName := "Unknown OS"
	index1 := strings.Index(userAgent, "(")
	if index1 > 0 {
		index2 := strings.Index(userAgent[index1:], ")")
		if index2 > 0 {
			machineName = userAgent[index1+1 : index1+index2]
			md := strings.ToLower(machineName)
			for _, d := range machineDetections {
				if strings.Contains(md, d.keyword) {
					machineName = d.name
					break
				}
			}
		}
	}
	return machineName
}

// MachineLogin is the most recent sighting of one machine classification.
type MachineLogin struct {
	MachineName string
	LastLogin   time.Time
}

// Describe renders the machine with a humanized recency, e.g.
// "Windows (3 days ago)".
func (m MachineLogin) Describe() string {
	return fmt.Sprintf("%s (%s)", m.MachineName, humanize.Time(m.LastLogin))
}

// SourceGroup is the per-IP view of login history.
type SourceGroup struct {
	IP          string
	GeoLocation string
	Machines    []MachineLogin
}

// FormatGeoLocation renders the captured coordinates as "City, State,
// Country". Anything short of the expected shape reads as unavailable.
func FormatGeoLocation(geo []string) string {
	// 0 = Country, 1 = State, 2 = City, 3 = Postal Code
	if len(geo) < 3 {
		return "Location Unavailable"
	}
	return geo[2] + ", " + geo[1] + ", " + geo[0]
}

// ExtractSources groups the captured login history by IP and coarse machine
// name, keeping the most recent login per machine. Machines sort most recent
// first within a group; groups sort by their most recent activity with
// machine-less groups last. Malformed user agent entries are skipped so one
// bad row cannot blank the view.
func ExtractSources(loginSources core.LoginSources) []SourceGroup {
	groups := make([]SourceGroup, 0, len(loginSources.CapturedIPs))
	for _, cip := range loginSources.CapturedIPs {
		machines := map[string]MachineLogin{}
		for _, ua := range cip.UserAgents {
			record, err := ParseUserAgent(ua)
			if err != nil {
				continue
			}
			name := ExtractMachineName(record.UserAgent)
			if existing, ok := machines[name]; !ok || record.LastSeen.After(existing.LastLogin) {
				machines[name] = MachineLogin{MachineName: name, LastLogin: record.LastSeen}
			}
		}
		list := make([]MachineLogin, 0, len(machines))
		for _, m := range machines {
			list = append(list, m)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].LastLogin.After(list[j].LastLogin) })
		groups = append(groups, SourceGroup{
			IP:          cip.IPAddress,
			GeoLocation: FormatGeoLocation(cip.GeoLocation),
			Machines:    list,
		})
	}
	sort.SliceStable(groups, func(i, j int) bool {
		mi, mj := groups[i].Machines, groups[j].Machines
		if len(mi) == 0 {
			return false
		}
		if len(mj) == 0 {
			return true
		}
		return mi[0].LastLogin.After(mj[0].LastLogin)
	})
	return groups
}
